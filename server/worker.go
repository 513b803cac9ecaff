package server

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"mvsynth/model"
	"mvsynth/repository"
)

// stageStatus maps a pipeline stage to the run status shown to clients.
var stageStatus = map[string]model.RunStatus{
	model.StageAnalyze:   model.RunAnalyzing,
	model.StageKeyframes: model.RunGenerating,
	model.StagePlan:      model.RunPlanning,
	model.StageCompose:   model.RunComposing,
	model.StageConcat:    model.RunComposing,
	model.StageFinalize:  model.RunComposing,
}

// RunWorker executes queued runs one at a time until ctx is cancelled.
// Runs share the image generator and ffmpeg, so they never overlap.
func (s *Server) RunWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.execute(ctx, j)
		}
	}
}

func (s *Server) execute(ctx context.Context, j *job) {
	id := j.run.ID
	s.mu.Lock()
	if s.cancelled[id] {
		delete(s.cancelled, id)
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.active[id] = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
		cancel()
	}()

	log := s.log.With(zap.String("run", id))
	progress := func(stage string, percent int, message string) {
		status := stageStatus[stage]
		// 状态更新使用外层 ctx，取消运行时仍能记录进度
		if err := s.Runs.UpdateStatus(ctx, id, status, stage, percent); err != nil {
			log.Warn("更新运行状态失败", zap.Error(err))
		}
		s.publish(ctx, model.ProgressEvent{
			RunID: id, Stage: stage, Percent: percent, Message: message, Status: status,
		})
	}

	res, err := s.Executor.Run(runCtx, j.req, progress)
	if err != nil {
		status := model.RunFailed
		if runCtx.Err() != nil {
			status = model.RunCancelled
			log.Info("运行已取消", zap.Error(err))
		} else {
			log.Error("运行失败", zap.String("kind", errorKind(err)), zap.Error(err))
		}
		// 服务关闭时 ctx 已取消，仍需写入结束状态
		s.finish(context.WithoutCancel(ctx), id, status, err.Error())
		return
	}

	completion := repository.Completion{
		OutputPath:   res.OutputPath,
		SegmentCount: len(res.Timeline.Segments),
	}
	if res.Analysis != nil {
		completion.Duration = res.Analysis.Duration
		completion.Tempo = res.Analysis.Tempo
	}
	if data, err := json.Marshal(res.Timeline); err == nil {
		completion.TimelineJSON = string(data)
	}

	if s.Uploader != nil {
		key, err := s.Uploader.UploadRun(ctx, id, res.OutputPath, model.KeyframePaths(res.Keyframes))
		if err != nil {
			// 本地视频仍然可用
			log.Warn("上传运行产物失败", zap.Error(err))
		} else {
			completion.ObjectKey = key
		}
	}

	if err := s.Runs.Complete(ctx, id, completion); err != nil {
		log.Error("保存运行结果失败", zap.Error(err))
	}
	s.publish(ctx, model.ProgressEvent{
		RunID: id, Stage: model.StageFinalize, Percent: 100, Message: res.OutputPath, Status: model.RunSucceeded,
	})
}

// finish records a terminal failure or cancellation and tells subscribers.
func (s *Server) finish(ctx context.Context, id string, status model.RunStatus, message string) {
	if err := s.Runs.Fail(ctx, id, status, message); err != nil {
		s.log.Error("记录运行结束状态失败", zap.String("run", id), zap.Error(err))
	}
	s.publish(ctx, model.ProgressEvent{RunID: id, Message: message, Status: status})
}

func (s *Server) publish(ctx context.Context, ev model.ProgressEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if err := s.Bus.Publish(ctx, ev); err != nil {
		s.log.Warn("发布进度事件失败", zap.String("run", ev.RunID), zap.Error(err))
	}
}
