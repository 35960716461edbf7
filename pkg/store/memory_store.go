package store

import (
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookshelf/pkg/domain"
)

// MemoryStoreOption customizes a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithIDGenerator replaces the default UUID generator.
func WithIDGenerator(fn func() string) MemoryStoreOption {
	return func(m *MemoryStore) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) MemoryStoreOption {
	return func(m *MemoryStore) {
		if fn != nil {
			m.now = fn
		}
	}
}

// MemoryStore keeps books in-process, in insertion order.
// Every operation holds the lock for its whole duration.
type MemoryStore struct {
	mu    sync.RWMutex
	books []domain.Book
	index map[string]int // id -> position in books
	newID func() string
	now   func() time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore(options ...MemoryStoreOption) *MemoryStore {
	m := &MemoryStore{
		index: make(map[string]int),
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(m)
		}
	}
	return m
}

// Create validates the input, assigns an id and timestamps and appends the book.
func (m *MemoryStore) Create(in domain.BookInput) (string, error) {
	id, _, err := m.create(in, false)
	return id, err
}

// CreateSnapshot is Create that also returns the collection as it stood
// right after the append, taken under the same write lock.
func (m *MemoryStore) CreateSnapshot(in domain.BookInput) (string, []domain.Book, error) {
	return m.create(in, true)
}

func (m *MemoryStore) create(in domain.BookInput, snapshot bool) (string, []domain.Book, error) {
	if err := in.Validate(); err != nil {
		return "", nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.newID()
	if _, exists := m.index[id]; exists || id == "" {
		return "", nil, fmt.Errorf("allocate id %q: %w", id, domain.ErrInternal)
	}
	m.books = append(m.books, domain.NewBook(id, in, m.now().UTC()))
	m.index[id] = len(m.books) - 1

	if _, ok := m.lookup(id); !ok {
		return "", nil, fmt.Errorf("verify book %s: %w", id, domain.ErrInternal)
	}
	if !snapshot {
		return id, nil, nil
	}
	return id, slices.Clone(m.books), nil
}

// List returns the summaries of matching books in insertion order.
// The sequence iterates over a snapshot taken under the read lock.
func (m *MemoryStore) List(filter domain.ListFilter) iter.Seq[domain.BookSummary] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.BookSummary, 0, len(m.books))
	for _, b := range m.books {
		if filter.Match(b) {
			res = append(res, b.ToSummary())
		}
	}
	return slices.Values(res)
}

// All returns a copy of every full record in insertion order.
func (m *MemoryStore) All() []domain.Book {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.books)
}

// Get retrieves a book by id.
func (m *MemoryStore) Get(id string) (domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.lookup(id)
	if !ok {
		return domain.Book{}, fmt.Errorf("get book %s: %w", id, domain.ErrNotFound)
	}
	return m.books[i], nil
}

// Update validates the new values, then replaces every field but id and insertedAt.
func (m *MemoryStore) Update(id string, in domain.BookInput) (domain.Book, error) {
	book, _, err := m.update(id, in, false)
	return book, err
}

// UpdateSnapshot is Update that also returns the collection as it stood
// right after the change, taken under the same write lock.
func (m *MemoryStore) UpdateSnapshot(id string, in domain.BookInput) (domain.Book, []domain.Book, error) {
	return m.update(id, in, true)
}

func (m *MemoryStore) update(id string, in domain.BookInput, snapshot bool) (domain.Book, []domain.Book, error) {
	if err := in.Validate(); err != nil {
		return domain.Book{}, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.lookup(id)
	if !ok {
		return domain.Book{}, nil, fmt.Errorf("update book %s: %w", id, domain.ErrNotFound)
	}
	m.books[i].Apply(in, m.now().UTC())
	if !snapshot {
		return m.books[i], nil, nil
	}
	return m.books[i], slices.Clone(m.books), nil
}

// Delete removes the book and returns the removed record.
func (m *MemoryStore) Delete(id string) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.lookup(id)
	if !ok {
		return domain.Book{}, fmt.Errorf("delete book %s: %w", id, domain.ErrNotFound)
	}
	removed := m.books[i]
	m.books = slices.Delete(m.books, i, i+1)
	delete(m.index, id)
	for j := i; j < len(m.books); j++ {
		m.index[m.books[j].ID] = j
	}
	return removed, nil
}

// Len returns the number of stored books.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.books)
}

func (m *MemoryStore) lookup(id string) (int, bool) {
	i, ok := m.index[id]
	if !ok || i >= len(m.books) || m.books[i].ID != id {
		return 0, false
	}
	return i, true
}
