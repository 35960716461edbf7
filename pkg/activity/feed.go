package activity

import (
	"context"

	"bookshelf/pkg/domain"
)

// Feed records book lifecycle events and reads back the most recent ones.
type Feed interface {
	Publish(ctx context.Context, ev domain.Event) error
	Recent(ctx context.Context, limit int) ([]domain.Event, error)
}

// NopFeed drops every event. It is used when no Redis address is configured.
type NopFeed struct{}

func (NopFeed) Publish(context.Context, domain.Event) error { return nil }

func (NopFeed) Recent(context.Context, int) ([]domain.Event, error) { return []domain.Event{}, nil }
