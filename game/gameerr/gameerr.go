// Package gameerr classifies expected game rejections so the API layer can
// tell them apart from infrastructure failures.
package gameerr

import (
	"errors"
	"fmt"
)

// Rejection kinds.
var (
	ErrValidation  = errors.New("validation")
	ErrNotFound    = errors.New("not found")
	ErrResource    = errors.New("insufficient resource")
	ErrConsistency = errors.New("consistency")
)

// Rejection is an expected refusal of a game action. Kind is one of the
// sentinels above; Reason is shown to the player.
type Rejection struct {
	Kind   error
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

// Unwrap lets errors.Is match the kind sentinel.
func (r *Rejection) Unwrap() error { return r.Kind }

func Validation(format string, args ...any) error {
	return &Rejection{Kind: ErrValidation, Reason: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Rejection{Kind: ErrNotFound, Reason: fmt.Sprintf(format, args...)}
}

func Resource(format string, args ...any) error {
	return &Rejection{Kind: ErrResource, Reason: fmt.Sprintf(format, args...)}
}

func Consistency(format string, args ...any) error {
	return &Rejection{Kind: ErrConsistency, Reason: fmt.Sprintf(format, args...)}
}

// Result is the outcome returned to the presentation layer.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// ToResult converts a service error into a Result. Rejections become a
// failed Result with a nil error; anything else is returned unchanged.
func ToResult(err error) (Result, error) {
	if err == nil {
		return Result{OK: true}, nil
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		return Result{OK: false, Reason: rej.Reason}, nil
	}
	return Result{}, err
}

// IsRejection reports whether err carries a Rejection.
func IsRejection(err error) bool {
	var rej *Rejection
	return errors.As(err, &rej)
}
