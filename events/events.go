// Package events fans run progress out to subscribers, in process or over
// Redis Pub/Sub.
package events

import (
	"context"
	"sync"

	"mvsynth/logger"
	"mvsynth/model"
)

// Channel returns the Pub/Sub channel name of a run.
func Channel(runID string) string {
	return "mvsynth:run:" + runID
}

// Bus publishes progress events and hands them to subscribers of the same run.
type Bus interface {
	Publish(ctx context.Context, ev model.ProgressEvent) error
	Subscribe(ctx context.Context, runID string) (*Subscription, error)
}

// Subscription delivers events for one run until Close is called or the
// subscribing context ends.
type Subscription struct {
	C     <-chan model.ProgressEvent
	close func()
	once  sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(s.close)
}

const subscriberBuffer = 64

// MemoryBus 进程内订阅管理器，非阻塞发送
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan model.ProgressEvent]struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subscribers: make(map[string]map[chan model.ProgressEvent]struct{})}
}

func (b *MemoryBus) Publish(_ context.Context, ev model.ProgressEvent) error {
	// Sends are non-blocking, so holding the read lock keeps Close from
	// closing a channel mid-send without stalling publishers.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[ev.RunID] {
		select {
		case ch <- ev:
		default:
			// 缓冲区满，丢弃该事件
			logger.Warn("订阅者发送缓冲区满", logger.String("runId", ev.RunID))
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, runID string) (*Subscription, error) {
	ch := make(chan model.ProgressEvent, subscriberBuffer)

	b.mu.Lock()
	if b.subscribers[runID] == nil {
		b.subscribers[runID] = make(map[chan model.ProgressEvent]struct{})
	}
	b.subscribers[runID][ch] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	sub := &Subscription{C: ch}
	sub.close = func() {
		close(done)
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subscribers[runID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subscribers, runID)
			}
		}
		close(ch)
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-done:
		}
	}()
	return sub, nil
}

// SubscriberCount 获取订阅者数量
func (b *MemoryBus) SubscriberCount(runID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[runID])
}
