package collections

import "fmt"

// Reason classifies a collection validation failure.
type Reason string

const (
	ReasonNameTooShort       Reason = "name_too_short"
	ReasonNameTooLong        Reason = "name_too_long"
	ReasonDescriptionTooLong Reason = "description_too_long"
	ReasonQuotaExceeded      Reason = "quota_exceeded"
	ReasonInvalidGenres      Reason = "invalid_genres"
	ReasonInvalidType        Reason = "invalid_type"
	ReasonNotFound           Reason = "not_found"
	ReasonSystemCollection   Reason = "system_collection"
)

// Error is returned for every rejected collection operation.
type Error struct {
	Reason Reason
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "collection: " + string(e.Reason)
	}
	return fmt.Sprintf("collection: %s: %s", e.Reason, e.Detail)
}

// Is matches any *Error with the same reason, so callers can write
// errors.Is(err, collections.ErrQuotaExceeded).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

var (
	ErrNameTooShort       = &Error{Reason: ReasonNameTooShort}
	ErrNameTooLong        = &Error{Reason: ReasonNameTooLong}
	ErrDescriptionTooLong = &Error{Reason: ReasonDescriptionTooLong}
	ErrQuotaExceeded      = &Error{Reason: ReasonQuotaExceeded}
	ErrInvalidGenres      = &Error{Reason: ReasonInvalidGenres}
	ErrInvalidType        = &Error{Reason: ReasonInvalidType}
	ErrNotFound           = &Error{Reason: ReasonNotFound}
	ErrSystemCollection   = &Error{Reason: ReasonSystemCollection}
)

func failure(reason Reason, format string, args ...any) error {
	return &Error{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
