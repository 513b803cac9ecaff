package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mvsynth/core/pipeline"
	"mvsynth/core/utils"
	"mvsynth/logger"
	"mvsynth/model"
	"mvsynth/repository"
)

var (
	render       renderFlags
	renderUpload bool
)

var renderCmd = &cobra.Command{
	Use:   "render <audio>",
	Short: "渲染音乐视频",
	Long:  `分析音频，生成关键帧，规划时间线并合成最终视频。音频可以是本地文件或 http(s) URL。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireStyle(&render); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, renderUpload)
		if err != nil {
			return err
		}
		defer a.Close()

		req, err := a.baseRequest(&render)
		if err != nil {
			return err
		}
		audio, cleanup, err := localAudio(ctx, args[0], cfg.WorkDir)
		if err != nil {
			return err
		}
		defer cleanup()
		req.AudioPath = audio

		res, err := renderOne(ctx, a, req, renderUpload)
		if err != nil {
			return err
		}
		fmt.Println(res.OutputPath)
		return nil
	},
}

// localAudio downloads remote audio into a temporary directory under workDir.
func localAudio(ctx context.Context, src, workDir string) (string, func(), error) {
	if !utils.IsRemote(src) {
		return src, func() {}, nil
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", nil, err
	}
	dir, err := os.MkdirTemp(workDir, "download-*")
	if err != nil {
		return "", nil, err
	}
	dst, err := utils.DownloadFile(ctx, src, dir)
	if err != nil {
		os.RemoveAll(dir)
		return "", nil, err
	}
	return dst, func() { os.RemoveAll(dir) }, nil
}

// renderOne runs req, records it in the run ledger and optionally uploads
// the result.
func renderOne(ctx context.Context, a *app, req pipeline.Request, upload bool) (*pipeline.Result, error) {
	run := model.NewRun(req.AudioPath, req.Style, req.Narrative, req.Keyframes)
	req.RunID = run.ID
	if err := a.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	res, err := a.runner.Run(ctx, req, func(stage string, percent int, message string) {
		logger.Info(message, logger.String("stage", stage), logger.Int("percent", percent))
		a.runs.UpdateStatus(ctx, run.ID, stageStatusOf(stage), stage, percent)
	})
	if err != nil {
		status := model.RunFailed
		if ctx.Err() != nil {
			status = model.RunCancelled
		}
		a.runs.Fail(context.WithoutCancel(ctx), run.ID, status, err.Error())
		return nil, err
	}

	completion := repository.Completion{
		OutputPath:   res.OutputPath,
		Duration:     res.Analysis.Duration,
		Tempo:        res.Analysis.Tempo,
		SegmentCount: len(res.Timeline.Segments),
	}
	if data, err := json.Marshal(res.Timeline); err == nil {
		completion.TimelineJSON = string(data)
	}
	if upload {
		if a.store == nil {
			logger.Warn("MinIO 未配置，跳过上传")
		} else {
			key, err := a.store.UploadRun(ctx, run.ID, res.OutputPath, model.KeyframePaths(res.Keyframes))
			if err != nil {
				logger.Error("上传失败", logger.ErrorField(err))
			} else {
				completion.ObjectKey = key
				logger.Info("已上传", logger.String("bucket", a.store.Bucket()), logger.String("key", key))
			}
		}
	}
	if err := a.runs.Complete(ctx, run.ID, completion); err != nil {
		logger.Warn("保存运行结果失败", logger.ErrorField(err))
	}
	return res, nil
}

func stageStatusOf(stage string) model.RunStatus {
	switch stage {
	case model.StageAnalyze:
		return model.RunAnalyzing
	case model.StageKeyframes:
		return model.RunGenerating
	case model.StagePlan:
		return model.RunPlanning
	default:
		return model.RunComposing
	}
}

func init() {
	rootCmd.AddCommand(renderCmd)
	addRenderFlags(renderCmd, &render)
	renderCmd.Flags().BoolVar(&renderUpload, "upload", false, "upload the video and keyframes to MinIO")
	renderCmd.Example = `  mvsynth render song.wav -s "oil painting, warm light" -n "a harbour at dawn, boats leaving, open sea"
  mvsynth render https://example.com/track.mp3 -s "ink wash" -k 12 -t cut -m section_sync --upload`
}
