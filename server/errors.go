package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"mvsynth/logger"
	"mvsynth/model"
)

// statusFor maps a pipeline error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrAudioRead), errors.Is(err, model.ErrAudioEmpty):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorKind names the kind of err for API clients.
func errorKind(err error) string {
	for _, k := range []struct {
		err  error
		name string
	}{
		{model.ErrAudioRead, "audio_read"},
		{model.ErrAudioEmpty, "audio_empty"},
		{model.ErrKeyframeDegenerate, "keyframe_degenerate"},
		{model.ErrTimelineInfeasible, "timeline_infeasible"},
		{model.ErrCompositorStep, "compositor_step"},
		{model.ErrCompositorConcat, "compositor_concat"},
	} {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}
