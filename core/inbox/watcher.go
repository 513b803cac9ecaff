// Package inbox watches a directory and hands every new audio file to a
// handler once the file has stopped growing.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"mvsynth/logger"
)

// AudioExtensions lists the file types picked up from the inbox.
var AudioExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".m4a": true, ".ogg": true, ".aac": true,
}

// Handler processes one audio file. Handlers run one at a time.
type Handler func(ctx context.Context, path string) error

type pending struct {
	seen time.Time
	size int64
}

type Watcher struct {
	dir      string
	handle   Handler
	settle   time.Duration
	existing bool
	log      *zap.Logger

	mu        sync.Mutex
	processed map[string]bool
}

type Option func(*Watcher)

// WithSettle sets how long a file must stay unchanged before it is handled.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// WithExisting also handles audio files already in the directory at start.
func WithExisting() Option {
	return func(w *Watcher) { w.existing = true }
}

func New(dir string, handle Handler, opts ...Option) *Watcher {
	w := &Watcher{
		dir:       dir,
		handle:    handle,
		settle:    500 * time.Millisecond,
		log:       logger.Named("inbox"),
		processed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// IsAudio reports whether path has a supported audio extension and is not a
// hidden or partial file.
func IsAudio(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return AudioExtensions[strings.ToLower(filepath.Ext(base))]
}

// Run watches until ctx is cancelled, then waits for the running handler.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox %s: %w", w.dir, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	tasks := make(chan string, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.worker(ctx, tasks)
	}()
	defer wg.Wait()
	defer close(tasks)

	// 文件稳定性检查的延迟队列
	pendingFiles := make(map[string]*pending)
	if w.existing {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", w.dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() && IsAudio(e.Name()) {
				pendingFiles[filepath.Join(w.dir, e.Name())] = &pending{size: -1}
			}
		}
	}

	w.log.Info("开始监听收件目录", zap.String("dir", w.dir))
	checkTicker := time.NewTicker(50 * time.Millisecond)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 && IsAudio(event.Name) {
				if p, ok := pendingFiles[event.Name]; ok {
					p.seen = time.Now()
				} else {
					pendingFiles[event.Name] = &pending{seen: time.Now(), size: -1}
				}
			}

		case <-checkTicker.C:
			now := time.Now()
			for path, p := range pendingFiles {
				if now.Sub(p.seen) < w.settle {
					continue // 文件可能还在写入
				}
				info, err := os.Stat(path)
				if err != nil {
					// 文件已被移走
					delete(pendingFiles, path)
					continue
				}
				if info.Size() == 0 || info.Size() != p.size {
					p.size = info.Size()
					p.seen = now
					continue
				}
				if w.markProcessed(path) {
					delete(pendingFiles, path)
					continue
				}
				select {
				case tasks <- path:
					delete(pendingFiles, path)
				default:
					// 通道满了，稍后重试
					w.unmark(path)
				}
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("文件监听错误", zap.Error(err))
		}
	}
}

// markProcessed records path and reports whether it was already recorded.
func (w *Watcher) markProcessed(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.processed[path] {
		return true
	}
	w.processed[path] = true
	return false
}

func (w *Watcher) unmark(path string) {
	w.mu.Lock()
	delete(w.processed, path)
	w.mu.Unlock()
}

func (w *Watcher) worker(ctx context.Context, tasks <-chan string) {
	for path := range tasks {
		if ctx.Err() != nil {
			continue
		}
		start := time.Now()
		w.log.Info("检测到新音频", zap.String("path", path))
		if err := w.handle(ctx, path); err != nil {
			w.log.Error("处理收件音频失败", zap.String("path", path), zap.Error(err))
			continue
		}
		w.log.Info("收件音频处理完成", zap.String("path", path), zap.Duration("elapsed", time.Since(start)))
	}
}
