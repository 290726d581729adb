package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnresolvableCitation   = errors.New("unresolvable citation")
	ErrLowConfidenceTreatment = errors.New("low confidence treatment")
	ErrOrphanMarker           = errors.New("orphan citation marker")
	ErrMergeConflict          = errors.New("concurrent merge conflict")
	ErrOverloaded             = errors.New("overloaded")
	ErrGenerationUnavailable  = errors.New("generation unavailable")
	ErrIndexUnavailable       = errors.New("index unavailable")
	ErrTemporary              = errors.New("temporary failure")
)

// WrapError attaches an error kind and operation label while preserving the
// original error for errors.Is/errors.As checks.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
