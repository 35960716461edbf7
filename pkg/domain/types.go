package domain

import (
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the wire format for book timestamps (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp marshals as a TimestampLayout string in UTC.
type Timestamp time.Time

// Time returns the underlying time value.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// MarshalJSON writes the quoted timestamp.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Time(t).UTC().Format(TimestampLayout))), nil
}

// UnmarshalJSON accepts TimestampLayout as well as plain RFC 3339.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed.UTC())
	return nil
}

// Book is one catalogued title with reading progress.
type Book struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Year       int       `json:"year"`
	Author     string    `json:"author"`
	Summary    string    `json:"summary"`
	Publisher  string    `json:"publisher"`
	PageCount  int       `json:"pageCount"`
	ReadPage   int       `json:"readPage"`
	Finished   bool      `json:"finished"`
	Reading    bool      `json:"reading"`
	InsertedAt Timestamp `json:"insertedAt"`
	UpdatedAt  Timestamp `json:"updatedAt"`
}

// ToSummary projects the book onto the fields returned by list.
func (b Book) ToSummary() BookSummary {
	return BookSummary{ID: b.ID, Name: b.Name, Publisher: b.Publisher}
}

// BookSummary is the reduced view returned by list.
type BookSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Publisher string `json:"publisher"`
}

// BookInput carries the caller-writable fields for create and update.
type BookInput struct {
	Name      string `json:"name"`
	Year      int    `json:"year"`
	Author    string `json:"author"`
	Summary   string `json:"summary"`
	Publisher string `json:"publisher"`
	PageCount int    `json:"pageCount"`
	ReadPage  int    `json:"readPage"`
	Reading   bool   `json:"reading"`
}

// Validate checks the input in a fixed order: name, page relation, page signs.
func (in BookInput) Validate() error {
	if in.Name == "" {
		return ErrMissingName
	}
	if in.ReadPage > in.PageCount {
		return ErrReadPageExceedsPageCount
	}
	if in.PageCount < 0 || in.ReadPage < 0 {
		return ErrNegativePages
	}
	return nil
}

// NewBook builds a stored record from validated input.
func NewBook(id string, in BookInput, now time.Time) Book {
	b := Book{
		ID:         id,
		InsertedAt: Timestamp(now),
	}
	b.Apply(in, now)
	return b
}

// Apply replaces every writable field, recomputes Finished and stamps UpdatedAt.
// ID and InsertedAt are left alone.
func (b *Book) Apply(in BookInput, now time.Time) {
	b.Name = in.Name
	b.Year = in.Year
	b.Author = in.Author
	b.Summary = in.Summary
	b.Publisher = in.Publisher
	b.PageCount = in.PageCount
	b.ReadPage = in.ReadPage
	b.Reading = in.Reading
	b.Finished = in.ReadPage == in.PageCount
	b.UpdatedAt = Timestamp(now)
}

// Flag is a tri-state boolean filter.
type Flag int

const (
	FlagUnset Flag = iota
	FlagTrue
	FlagFalse
)

// ParseFlag maps a query value onto a Flag: "" is unset, "0" is false and
// any other value is true.
func ParseFlag(raw string) Flag {
	switch raw {
	case "":
		return FlagUnset
	case "0":
		return FlagFalse
	default:
		return FlagTrue
	}
}

// Matches reports whether v satisfies the flag. An unset flag matches everything.
func (f Flag) Matches(v bool) bool {
	switch f {
	case FlagTrue:
		return v
	case FlagFalse:
		return !v
	default:
		return true
	}
}

func (f Flag) String() string {
	switch f {
	case FlagTrue:
		return "true"
	case FlagFalse:
		return "false"
	default:
		return "unset"
	}
}

// ListFilter holds the optional list predicates. All present predicates must hold.
type ListFilter struct {
	Name     string
	Reading  Flag
	Finished Flag
}

// Match reports whether b passes every predicate of the filter.
func (f ListFilter) Match(b Book) bool {
	if f.Name != "" && !strings.Contains(strings.ToLower(b.Name), strings.ToLower(f.Name)) {
		return false
	}
	return f.Reading.Matches(b.Reading) && f.Finished.Matches(b.Finished)
}

// Event types published to the activity feed.
const (
	EventBookCreated = "book.created"
	EventBookUpdated = "book.updated"
	EventBookDeleted = "book.deleted"
)

// Event records one successful mutation of the collection.
type Event struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	BookID string    `json:"bookId"`
	Name   string    `json:"name,omitempty"`
	At     Timestamp `json:"at"`
}
