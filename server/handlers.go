package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"mvsynth/core/compositor"
	"mvsynth/core/inbox"
	"mvsynth/core/keyframe"
	"mvsynth/core/pipeline"
	"mvsynth/core/planner"
	"mvsynth/model"
)

const (
	maxUploadSize  = 512 << 20
	maxMemory      = 32 << 20
	defaultPageLen = 50
)

// saveUpload stores the multipart "audio" file as dir/name{ext}.
func saveUpload(r *http.Request, dir, name string) (string, error) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", fmt.Errorf("audio file is required: %w", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !inbox.AudioExtensions[ext] {
		return "", fmt.Errorf("unsupported audio type %q", ext)
	}
	dst := filepath.Join(dir, name+ext)
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return dst, nil
}

// requestFromForm applies form overrides to the server's template request.
func (s *Server) requestFromForm(r *http.Request) (pipeline.Request, error) {
	req := s.Template
	req.Style = strings.TrimSpace(r.FormValue("style"))
	req.Narrative = r.FormValue("narrative")

	if v := r.FormValue("keyframes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("invalid keyframes %q", v)
		}
		req.Keyframes = n
	}
	if v := r.FormValue("seed"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid seed %q", v)
		}
		req.Seed = n
	}
	if v := r.FormValue("preset"); v != "" {
		p, err := keyframe.LookupPreset(v)
		if err != nil {
			return req, err
		}
		req.Preset = p
	}
	if v := r.FormValue("resolution"); v != "" {
		res, err := compositor.ParseResolution(v)
		if err != nil {
			return req, err
		}
		req.Compositor.Resolution = res
	}
	if v := r.FormValue("fps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("invalid fps %q", v)
		}
		req.Compositor.FPS = n
	}
	if v := r.FormValue("hw_accel"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("invalid hw_accel %q", v)
		}
		req.Compositor.HWAccel = b
	}
	if v := r.FormValue("transition_style"); v != "" {
		t, err := model.ParseTransition(v)
		if err != nil {
			return req, err
		}
		req.Planner.TransitionStyle = t
		req.Compositor.TransitionStyle = t
	}
	if v := r.FormValue("transition_mode"); v != "" {
		m, err := planner.ParseMode(v)
		if err != nil {
			return req, err
		}
		req.Planner.Mode = m
	}
	return req, nil
}

// CreateRunHandler accepts an audio upload and queues a run.
func (s *Server) CreateRunHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		http.Error(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	req, err := s.requestFromForm(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	run := model.NewRun("", req.Style, req.Narrative, req.Keyframes)
	req.RunID = run.ID
	// 先用占位路径校验，避免保存无效请求的上传文件
	req.AudioPath = "pending"
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	path, err := saveUpload(r, s.uploadDir, run.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.AudioPath = path
	run.AudioPath = path

	if err := s.Runs.Create(r.Context(), run); err != nil {
		s.log.Error("创建运行记录失败", zap.Error(err))
		os.Remove(path)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	select {
	case s.queue <- &job{run: run, req: req}:
	default:
		s.Runs.Fail(r.Context(), run.ID, model.RunFailed, "queue full")
		os.Remove(path)
		http.Error(w, "Too many queued runs", http.StatusServiceUnavailable)
		return
	}

	s.log.Info("运行已入队",
		zap.String("run", run.ID),
		zap.String("user", UsernameFromContext(r.Context())),
		zap.String("audio", filepath.Base(path)))
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     run.ID,
		"status": run.Status,
	})
}

func (s *Server) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := defaultPageLen, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid offset", http.StatusBadRequest)
			return
		}
		offset = n
	}

	runs, err := s.Runs.List(r.Context(), limit, offset)
	if err != nil {
		s.log.Error("查询运行列表失败", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// loadRun writes 404 and returns nil when the {id} run does not exist.
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) *model.Run {
	id := mux.Vars(r)["id"]
	run, err := s.Runs.GetByID(r.Context(), id)
	if err != nil {
		s.log.Error("查询运行失败", zap.String("run", id), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return nil
	}
	return run
}

func (s *Server) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// TimelineHandler returns the planned timeline of a finished run.
func (s *Server) TimelineHandler(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	if run.TimelineJSON == "" {
		http.Error(w, "Timeline not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, run.TimelineJSON)
}

// CancelRunHandler cancels a queued or running run.
func (s *Server) CancelRunHandler(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	if run.Status.Terminal() {
		http.Error(w, fmt.Sprintf("Run already %s", run.Status), http.StatusConflict)
		return
	}

	s.mu.Lock()
	cancel, running := s.active[run.ID]
	if !running {
		s.cancelled[run.ID] = true
	}
	s.mu.Unlock()

	if running {
		cancel()
		writeJSON(w, http.StatusAccepted, map[string]string{"id": run.ID, "status": "cancelling"})
		return
	}
	s.finish(r.Context(), run.ID, model.RunCancelled, "cancelled before start")
	writeJSON(w, http.StatusAccepted, map[string]string{"id": run.ID, "status": string(model.RunCancelled)})
}

// AnalyzeHandler runs the audio analyzer on an upload and returns the
// analysis directly.
func (s *Server) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	if s.Analyzer == nil {
		http.Error(w, "Analyzer not available", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		http.Error(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	dir, err := os.MkdirTemp(s.uploadDir, "analyze-*")
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)
	path, err := saveUpload(r, dir, "audio")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	analysis, err := s.Analyzer.Analyze(ctx, path, s.Template.Analyzer)
	if err != nil {
		s.log.Warn("分析失败", zap.Error(err))
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error(), "kind": errorKind(err)})
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}
