package domain

import "errors"

// ValidationError reports bad or missing caller input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

var (
	ErrMissingName              = &ValidationError{Reason: "missing name"}
	ErrReadPageExceedsPageCount = &ValidationError{Reason: "readPage exceeds pageCount"}
	ErrNegativePages            = &ValidationError{Reason: "negative page value"}

	// ErrNotFound is returned when no book has the requested id.
	ErrNotFound = errors.New("id not found")

	// ErrInternal signals a broken post-condition, such as an id collision.
	ErrInternal = errors.New("internal error")
)

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
