package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"bookshelf/pkg/domain"
)

// RedisFeedConfig configures a RedisFeed.
type RedisFeedConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
	Timeout  time.Duration
}

// RedisFeed appends events to a capped Redis stream.
type RedisFeed struct {
	client  *redis.Client
	stream  string
	maxLen  int64
	timeout time.Duration
}

// NewRedisFeed builds a stream-backed feed. The connection is lazy.
func NewRedisFeed(cfg RedisFeedConfig) (*RedisFeed, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "bookshelf:events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 1000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisFeed{
		client:  redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:  stream,
		maxLen:  maxLen,
		timeout: timeout,
	}, nil
}

// Publish appends ev to the stream, trimming it to roughly MaxLen entries.
func (f *RedisFeed) Publish(ctx context.Context, ev domain.Event) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	at := ev.At.Time()
	if at.IsZero() {
		at = time.Now()
	}
	err := f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.stream,
		MaxLen: f.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":    ev.Type,
			"book_id": ev.BookID,
			"name":    ev.Name,
			"at":      at.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Recent returns up to limit events, newest first. Event ids are stream entry ids.
func (f *RedisFeed) Recent(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		return []domain.Event{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	msgs, err := f.client.XRevRangeN(ctx, f.stream, "+", "-", int64(limit)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	out := make([]domain.Event, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, decodeEvent(msg))
	}
	return out, nil
}

// Close releases the Redis connection pool.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}

func decodeEvent(msg redis.XMessage) domain.Event {
	ev := domain.Event{ID: msg.ID}
	ev.Type, _ = msg.Values["type"].(string)
	ev.BookID, _ = msg.Values["book_id"].(string)
	ev.Name, _ = msg.Values["name"].(string)
	if v, _ := msg.Values["at"].(string); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			ev.At = domain.Timestamp(t)
		}
	}
	return ev
}
