package engine

import (
	"errors"
	"fmt"

	"github.com/kindred-care/kindred/internal/entity"
	"github.com/kindred-care/kindred/internal/store"
)

// ErrTransient marks a retryable persistence failure. Entities failing
// transiently stay staged and are retried by the next periodic cycle
// rather than in a tight loop.
var ErrTransient = errors.New("transient persistence error")

// ValidationError is a permanent per-entity failure: the staged value
// cannot be persisted as-is. The entity remains pending with this
// diagnostic attached until it is re-staged with a corrected value or
// exceeds the retry ceiling.
type ValidationError struct {
	Kind entity.Kind
	ID   string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried by the next cycle.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || store.IsTransient(err)
}
