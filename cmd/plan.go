package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mvsynth/config"
	"mvsynth/core/pipeline"
	"mvsynth/core/planner"
)

var (
	planTransition string
	planMode       string
)

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// listImages returns the images in dir sorted by name.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list images in %s: %w", dir, err)
	}
	var images []string
	for _, e := range entries {
		if !e.IsDir() && imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			images = append(images, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(images)
	if len(images) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	return images, nil
}

var planCmd = &cobra.Command{
	Use:   "plan <audio> <image-dir>",
	Short: "根据已有图片规划时间线",
	Long:  `分析音频并把目录中已有的图片排入时间线，不生成图片也不渲染，以 JSON 输出时间线。`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		profile, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			return err
		}
		req, err := pipeline.RequestFromProfile(profile)
		if err != nil {
			return err
		}
		if planTransition != "" {
			if err := applyTransition(&req, planTransition); err != nil {
				return err
			}
		}
		if planMode != "" {
			if err := applyMode(&req, planMode); err != nil {
				return err
			}
		}

		images, err := listImages(args[1])
		if err != nil {
			return err
		}
		audio, cleanup, err := localAudio(ctx, args[0], cfg.WorkDir)
		if err != nil {
			return err
		}
		defer cleanup()

		an, closeCache := newAnalyzer(ctx, cfg)
		defer closeCache()
		analysis, err := an.Analyze(ctx, audio, req.Analyzer)
		if err != nil {
			return err
		}
		tl, err := planner.Plan(analysis, images, req.Planner)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tl)
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVarP(&planTransition, "transition", "t", "", "transition style")
	planCmd.Flags().StringVarP(&planMode, "mode", "m", "", "segmentation mode")
}
