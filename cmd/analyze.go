package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mvsynth/config"
	"mvsynth/core/pipeline"
)

var analyzeNoSpeech bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <audio>",
	Short: "分析音频并输出 JSON",
	Long:  `只运行音频分析：节拍、能量曲线、段落和人声区间，以 JSON 输出到标准输出。`,
	Args:  cobra.ExactArgs(1),
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
		if analyzeNoSpeech {
			req.Analyzer.DetectSpeech = false
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
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&analyzeNoSpeech, "no-speech", false, "skip speech detection")
}
