package tracker

import "errors"

// DomainError is a user-facing failure (duplicate track, not tracking, ...).
// It is returned to the chat handler for direct display and is never logged
// as a system failure.
type DomainError struct {
	msg string
}

func (e *DomainError) Error() string { return e.msg }

var (
	ErrAlreadyTracking = &DomainError{msg: "You are already tracking this center."}
	ErrNotTracking     = &DomainError{msg: "You are not tracking this center!"}
	ErrNotTrackingAny  = &DomainError{msg: "You are not tracking any centers!"}
)

// IsDomain reports whether err is user-facing rather than a system failure.
func IsDomain(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}
