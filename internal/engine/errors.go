package engine

import (
	"errors"

	"dreamie/internal/catalog"
	"dreamie/internal/engine/auth"
	"dreamie/internal/repo"
	"dreamie/internal/store"
)

var (
	// validation
	ErrUnknownVillager  = catalog.ErrUnknownVillager
	ErrMalformedID      = errors.New("malformed application id")
	ErrInvalidWindow    = errors.New("availability window must be 1-6")
	ErrMissingRequester = errors.New("requester account id required")
	ErrUnknownAction    = errors.New("unknown action")
	ErrAmbiguous        = errors.New("more than one open application; give an id")

	// policy
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrLimitExceeded     = errors.New("open application limit reached")
	ErrCooldownActive    = errors.New("rejection cooldown active")
	ErrQueueLocked       = errors.New("application queue is locked")
	ErrInvalidTransition = errors.New("invalid transition")

	ErrNotFound = errors.New("application not found")

	ErrStoreUnavailable = store.ErrUnavailable
)

// PrecheckError carries the reason a new application was refused, worded for
// the requester. Err is one of the policy sentinels.
type PrecheckError struct {
	Err    error
	Reason string
}

func (e *PrecheckError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Reason
}

func (e *PrecheckError) Unwrap() error { return e.Err }

// ErrorKind groups errors by how callers should report them.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindPolicy           ErrorKind = "policy"
	KindNotFound         ErrorKind = "not_found"
	KindStoreUnavailable ErrorKind = "store_unavailable"
	KindInternal         ErrorKind = "internal"
)

// Kind classifies err. Nil yields "".
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var forbidden auth.ForbiddenError
	switch {
	case errors.Is(err, ErrUnknownVillager),
		errors.Is(err, ErrMalformedID),
		errors.Is(err, ErrInvalidWindow),
		errors.Is(err, ErrMissingRequester),
		errors.Is(err, ErrUnknownAction),
		errors.Is(err, ErrAmbiguous):
		return KindValidation
	case errors.As(err, &forbidden),
		errors.Is(err, ErrDuplicateRequest),
		errors.Is(err, ErrLimitExceeded),
		errors.Is(err, ErrCooldownActive),
		errors.Is(err, ErrQueueLocked),
		errors.Is(err, ErrInvalidTransition):
		return KindPolicy
	case errors.Is(err, ErrNotFound), errors.Is(err, repo.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	}
	return KindInternal
}

// IsForbidden reports whether err is a role or ownership refusal.
func IsForbidden(err error) bool {
	var forbidden auth.ForbiddenError
	return errors.As(err, &forbidden)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(Kind(err))
}
