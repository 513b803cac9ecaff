package inbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
	ch    chan string
}

func newRecorder() *recorder { return &recorder{ch: make(chan string, 16)} }

func (r *recorder) handle(_ context.Context, path string) error {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	r.ch <- path
	return nil
}

func (r *recorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case p := <-r.ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("handler not called")
		return ""
	}
}

func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
}

func TestWatcherHandlesNewAudio(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, New(dir, rec.handle, WithSettle(50*time.Millisecond)))

	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	song := filepath.Join(dir, "song.wav")
	if err := os.WriteFile(song, []byte("RIFF....WAVE"), 0644); err != nil {
		t.Fatal(err)
	}

	if got := rec.wait(t); got != song {
		t.Errorf("handled %s, want %s", got, song)
	}

	// Rewriting the same file is not handled twice.
	os.WriteFile(song, []byte("RIFF....WAVE...."), 0644)
	select {
	case p := <-rec.ch:
		t.Errorf("handled %s again", p)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcherExistingFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.mp3")
	os.WriteFile(old, []byte("ID3"), 0644)
	os.WriteFile(filepath.Join(dir, ".partial.mp3"), []byte("ID3"), 0644)

	rec := newRecorder()
	startWatcher(t, New(dir, rec.handle, WithSettle(50*time.Millisecond), WithExisting()))

	if got := rec.wait(t); got != old {
		t.Errorf("handled %s, want %s", got, old)
	}
}

func TestIsAudio(t *testing.T) {
	tests := map[string]bool{
		"a.wav":       true,
		"b.FLAC":      true,
		"c.m4a":       true,
		"d.txt":       false,
		".e.wav":      false,
		"dir/f.ogg":   true,
		"g.mp3.part":  false,
		"h":           false,
	}
	for name, want := range tests {
		if got := IsAudio(name); got != want {
			t.Errorf("IsAudio(%q) = %v, want %v", name, got, want)
		}
	}
}
