// Package source assembles layered configuration from files, environment
// variables, and Kubernetes objects, and watches those backends for changes.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
)

// Source produces one configuration layer and can optionally watch its
// backing storage for changes.
type Source interface {
	fmt.Stringer

	// Layer reads the source and returns its configuration tree.
	Layer(ctx context.Context) (map[string]any, error)

	// Watch registers change notifications against the given notifier. It
	// returns once watching is set up; delivery happens on background
	// goroutines. Sources that cannot watch return nil without doing
	// anything.
	Watch(ctx context.Context, notify *Notifier) error
}

// Error classifies a source failure. Recoverable failures (backend
// temporarily unreachable) skip the layer during assembly; fatal ones
// (malformed data, unknown format) abort the whole assembly.
type Error struct {
	Err           error
	IsRecoverable bool
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Recoverable wraps err as a failure that assembly may skip past.
func Recoverable(err error) error {
	return &Error{Err: err, IsRecoverable: true}
}

// Fatal wraps err as a failure that aborts assembly.
func Fatal(err error) error {
	return &Error{Err: err}
}

// IsRecoverable reports whether err is classified recoverable. Unclassified
// errors are treated as fatal.
func IsRecoverable(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.IsRecoverable
}

// Notifier delivers change notifications into a registry's single-slot
// channel. At most one wake-up is ever pending: bursts of near-simultaneous
// events collapse into it, which is the debounce mechanism.
type Notifier struct {
	ch  chan<- struct{}
	log logr.Logger
}

// Notify signals that the storage behind the named source has changed. If
// a wake-up is already pending the event rides along with it; the next
// reconciliation re-reads every source anyway.
func (n *Notifier) Notify(from string) {
	select {
	case n.ch <- struct{}{}:
		n.log.Info("reload triggered", "source", from)
	default:
		n.log.V(1).Info("reload already pending", "source", from)
	}
}
