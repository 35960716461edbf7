package store

import (
	"iter"

	"bookshelf/pkg/domain"
)

// BookStore defines the operations on the book collection.
type BookStore interface {
	Create(in domain.BookInput) (string, error)
	// CreateSnapshot also returns the collection right after the append.
	CreateSnapshot(in domain.BookInput) (string, []domain.Book, error)
	List(filter domain.ListFilter) iter.Seq[domain.BookSummary]
	All() []domain.Book
	Get(id string) (domain.Book, error)
	Update(id string, in domain.BookInput) (domain.Book, error)
	// UpdateSnapshot also returns the collection right after the change.
	UpdateSnapshot(id string, in domain.BookInput) (domain.Book, []domain.Book, error)
	Delete(id string) (domain.Book, error)
	Len() int
}
