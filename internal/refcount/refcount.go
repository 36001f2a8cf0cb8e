// Package refcount implements reference-counted shared handles for the
// model resources spec.md §9 calls out as immutable-after-construction
// and safe to share across decoders: LogMath, Dictionary, Mdef, Tmat,
// Mgau, and FsgModel. A Handle wraps one such resource; Retain increments
// its count, Release decrements it, and any Get call after the count
// reaches zero returns an error rather than a stale or nil value.
package refcount

import (
	"sync"

	"github.com/soundswallower/soundswallower-go/internal/errs"
)

// Handle is a reference-counted wrapper around a value of type T. The
// zero Handle is not usable; construct one with New.
type Handle[T any] struct {
	mu    sync.Mutex
	value T
	count int // number of live references; 0 means freed
}

// New wraps value with an initial reference count of 1, as if the
// caller had already called Retain once by constructing it.
func New[T any](value T) *Handle[T] {
	return &Handle[T]{value: value, count: 1}
}

// Retain increments the reference count and returns the handle itself,
// so callers can chain it at the point a reference is handed out:
// shared, err := h.Retain(). Retaining a freed handle is an error.
func (h *Handle[T]) Retain() (*Handle[T], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count <= 0 {
		return nil, errs.New(errs.BadState, "refcount: retain of freed handle")
	}
	h.count++
	return h, nil
}

// Release decrements the reference count. Releasing more times than
// outstanding references is an error, matching spec §9's "after N of
// each, still live; one past that, invalid" invariant.
func (h *Handle[T]) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count <= 0 {
		return errs.New(errs.BadState, "refcount: release of freed handle")
	}
	h.count--
	return nil
}

// Get returns the wrapped value, or an error if the handle has already
// reached a zero reference count.
func (h *Handle[T]) Get() (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var zero T
	if h.count <= 0 {
		return zero, errs.New(errs.BadState, "refcount: access of freed handle")
	}
	return h.value, nil
}

// Count reports the current reference count, for tests and diagnostics.
func (h *Handle[T]) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
