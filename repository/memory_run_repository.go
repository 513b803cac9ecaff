package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mvsynth/model"
)

type memoryRunRepository struct {
	mu   sync.RWMutex
	runs map[string]*model.Run
}

// NewMemoryRunRepository keeps runs in process memory, for CLI use and when
// no database is configured.
func NewMemoryRunRepository() RunRepository {
	return &memoryRunRepository{runs: make(map[string]*model.Run)}
}

func (r *memoryRunRepository) Create(_ context.Context, run *model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *memoryRunRepository) GetByID(_ context.Context, id string) (*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (r *memoryRunRepository) List(_ context.Context, limit, offset int) ([]*model.Run, error) {
	r.mu.RLock()
	out := make([]*model.Run, 0, len(r.runs))
	for _, run := range r.runs {
		cp := *run
		cp.TimelineJSON = ""
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*model.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// update applies fn to the stored run under the write lock.
func (r *memoryRunRepository) update(id string, fn func(*model.Run)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	fn(run)
	run.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRunRepository) UpdateStatus(_ context.Context, id string, status model.RunStatus, stage string, progress int) error {
	return r.update(id, func(run *model.Run) {
		run.Status = status
		run.Stage = stage
		run.Progress = progress
	})
}

func (r *memoryRunRepository) Complete(_ context.Context, id string, c Completion) error {
	return r.update(id, func(run *model.Run) {
		now := time.Now()
		run.Status = model.RunSucceeded
		run.Stage = model.StageFinalize
		run.Progress = 100
		run.OutputPath = c.OutputPath
		run.ObjectKey = c.ObjectKey
		run.Duration = c.Duration
		run.Tempo = c.Tempo
		run.SegmentCount = c.SegmentCount
		run.TimelineJSON = c.TimelineJSON
		run.FinishedAt = &now
	})
}

func (r *memoryRunRepository) Fail(_ context.Context, id string, status model.RunStatus, message string) error {
	return r.update(id, func(run *model.Run) {
		now := time.Now()
		run.Status = status
		run.Error = message
		run.FinishedAt = &now
	})
}
