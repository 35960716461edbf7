package app

import (
	"context"
	"fmt"
	"io"
	"iter"
	"time"

	"bookshelf/internal/util"
	"bookshelf/pkg/activity"
	"bookshelf/pkg/domain"
	"bookshelf/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	Store         store.BookStore
	Feed          activity.Feed
	RedisAddr     string
	RedisPassword string
	EventStream   string
	EventMaxLen   int64
}

// App is the core application service wiring together the book store and the activity feed.
type App struct {
	store store.BookStore
	feed  activity.Feed
	now   func() time.Time
}

// New constructs the application. Without an explicit store it keeps books in
// memory; without an explicit feed it publishes to Redis when an address is
// configured and drops events otherwise.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		dataStore = store.NewMemoryStore()
	}
	feed := cfg.Feed
	if feed == nil {
		if cfg.RedisAddr != "" {
			redisFeed, err := activity.NewRedisFeed(activity.RedisFeedConfig{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				Stream:   cfg.EventStream,
				MaxLen:   cfg.EventMaxLen,
			})
			if err != nil {
				return nil, fmt.Errorf("init activity feed: %w", err)
			}
			feed = redisFeed
		} else {
			feed = activity.NopFeed{}
		}
	}
	return &App{
		store: dataStore,
		feed:  feed,
		now:   time.Now,
	}, nil
}

// Close releases the feed connection, if any.
func (a *App) Close() error {
	if closer, ok := a.feed.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// CreateBook validates and stores a new book. It returns the new id and the
// collection as it stood right after the book was added.
func (a *App) CreateBook(ctx context.Context, in domain.BookInput) (string, []domain.Book, error) {
	logger := util.LoggerFromContext(ctx)
	id, books, err := a.store.CreateSnapshot(in)
	if err != nil {
		if domain.IsValidation(err) {
			logger.Info("create book rejected", "err", err)
		} else {
			logger.Error("create book failed", "err", err)
		}
		return "", nil, err
	}
	logger.Info("book created", "book_id", id)
	a.publish(ctx, domain.EventBookCreated, id, in.Name)
	return id, books, nil
}

// ListBooks returns the summaries of books matching filter in insertion order.
func (a *App) ListBooks(_ context.Context, filter domain.ListFilter) iter.Seq[domain.BookSummary] {
	return a.store.List(filter)
}

// Books returns every stored book.
func (a *App) Books(_ context.Context) []domain.Book {
	return a.store.All()
}

// GetBook returns a single book.
func (a *App) GetBook(_ context.Context, id string) (domain.Book, error) {
	return a.store.Get(id)
}

// UpdateBook replaces the mutable fields of a book and returns the
// collection as it stood right after the change.
func (a *App) UpdateBook(ctx context.Context, id string, in domain.BookInput) ([]domain.Book, error) {
	logger := util.LoggerFromContext(ctx).With("book_id", id)
	book, books, err := a.store.UpdateSnapshot(id, in)
	if err != nil {
		logger.Info("update book rejected", "err", err)
		return nil, err
	}
	logger.Info("book updated", "finished", book.Finished)
	a.publish(ctx, domain.EventBookUpdated, book.ID, book.Name)
	return books, nil
}

// DeleteBook removes a book.
func (a *App) DeleteBook(ctx context.Context, id string) error {
	logger := util.LoggerFromContext(ctx).With("book_id", id)
	book, err := a.store.Delete(id)
	if err != nil {
		logger.Info("delete book rejected", "err", err)
		return err
	}
	logger.Info("book deleted")
	a.publish(ctx, domain.EventBookDeleted, book.ID, book.Name)
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (a *App) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	events, err := a.feed.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("read activity feed: %w", err)
	}
	return events, nil
}

// publish never fails the calling operation.
func (a *App) publish(ctx context.Context, eventType, bookID, name string) {
	ev := domain.Event{
		Type:   eventType,
		BookID: bookID,
		Name:   name,
		At:     domain.Timestamp(a.now().UTC()),
	}
	if err := a.feed.Publish(ctx, ev); err != nil {
		util.LoggerFromContext(ctx).Warn("publish book event failed", "type", eventType, "book_id", bookID, "err", err)
	}
}
