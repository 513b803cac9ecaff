package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"mvsynth/config"
	"mvsynth/logger"
	"mvsynth/model"
)

// RedisBus publishes progress on Redis Pub/Sub so that any server instance
// can relay a run's events.
type RedisBus struct {
	client *redis.Client
}

// ConnectRedisBus establishes a connection to Redis
func ConnectRedisBus(ctx context.Context, cfg *config.Config) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisBus{client: client}, nil
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, ev model.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(ev.RunID), data).Err(); err != nil {
		return fmt.Errorf("error publishing progress: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, runID string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, Channel(runID))
	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is lost.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("error subscribing to %s: %w", Channel(runID), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan model.ProgressEvent, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn("丢弃无法解析的进度事件", logger.String("channel", msg.Channel), logger.ErrorField(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return &Subscription{C: out, close: cancel}, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
