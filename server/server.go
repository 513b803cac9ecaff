package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"mvsynth/config"
	"mvsynth/core/analyzer"
	"mvsynth/core/auth"
	"mvsynth/core/pipeline"
	"mvsynth/events"
	"mvsynth/logger"
	"mvsynth/model"
	"mvsynth/repository"
)

// Executor runs one synthesis request. *pipeline.Runner implements it.
type Executor interface {
	Run(ctx context.Context, req pipeline.Request, progress pipeline.ProgressFunc) (*pipeline.Result, error)
}

// Analyzer analyzes an uploaded file synchronously. *analyzer.Analyzer
// implements it.
type Analyzer interface {
	Analyze(ctx context.Context, audioPath string, opts analyzer.Options) (*model.Analysis, error)
}

// Uploader copies a finished run to object storage. *storage.Client
// implements it.
type Uploader interface {
	UploadRun(ctx context.Context, runID, videoPath string, keyframes []string) (string, error)
}

// Deps are the collaborators of the API server. Uploader and Issuer are
// optional: without an Issuer every route is open.
type Deps struct {
	Config   *config.Config
	Template pipeline.Request
	Executor Executor
	Analyzer Analyzer
	Runs     repository.RunRepository
	Bus      events.Bus
	Uploader Uploader
	Issuer   *auth.Issuer
}

const queueSize = 16

type job struct {
	run *model.Run
	req pipeline.Request
}

// Server 处理运行任务的 HTTP/WebSocket 接口，并用单个 worker 顺序执行任务
type Server struct {
	Deps
	uploadDir string
	queue     chan *job

	mu        sync.Mutex
	active    map[string]context.CancelFunc
	cancelled map[string]bool

	log *zap.Logger
}

func New(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Executor == nil || deps.Runs == nil || deps.Bus == nil {
		return nil, fmt.Errorf("server requires config, executor, run repository and event bus")
	}
	s := &Server{
		Deps:      deps,
		uploadDir: filepath.Join(deps.Config.WorkDir, "uploads"),
		queue:     make(chan *job, queueSize),
		active:    make(map[string]context.CancelFunc),
		cancelled: make(map[string]bool),
		log:       logger.Named("server"),
	}
	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	if s.Issuer == nil {
		s.log.Warn("JWT_SECRET 未配置，API 不做认证")
	}
	return s, nil
}

// Router 使用 gorilla/mux 创建路由器
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/api/health", s.HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/auth/login", s.LoginHandler).Methods(http.MethodPost)

	router.HandleFunc("/api/analyze", s.AuthMiddleware(s.AnalyzeHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/runs", s.AuthMiddleware(s.CreateRunHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/runs", s.AuthMiddleware(s.ListRunsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/runs/{id}", s.AuthMiddleware(s.GetRunHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/runs/{id}", s.AuthMiddleware(s.CancelRunHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/runs/{id}/timeline", s.AuthMiddleware(s.TimelineHandler)).Methods(http.MethodGet)
	router.HandleFunc("/ws/runs/{id}", s.AuthMiddleware(s.ProgressSocketHandler)).Methods(http.MethodGet)
	return router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.Config.ServerAddr,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Minute, // audio uploads
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.RunWorker(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	stopWorker()
	<-workerDone
	s.log.Info("Server stopped")
	return nil
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
