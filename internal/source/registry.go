package source

import (
	"context"
	"errors"

	"github.com/go-logr/logr"
)

// Registry holds an ordered list of sources. Order is a first-class
// contract: later sources win leaf-level merge conflicts.
type Registry struct {
	sources []Source
	notify  chan struct{}
	watched bool
	log     logr.Logger
}

// NewRegistry builds a registry over the given sources, preserving their
// order. The notification channel holds exactly one pending wake-up.
func NewRegistry(log logr.Logger, sources ...Source) *Registry {
	return &Registry{
		sources: sources,
		notify:  make(chan struct{}, 1),
		log:     log,
	}
}

// Sources returns the registered sources in merge order.
func (r *Registry) Sources() []Source { return r.sources }

// Snapshot merges every source layer in registration order into one
// configuration tree. Recoverable source failures are logged and skipped;
// fatal ones abort the assembly.
func (r *Registry) Snapshot(ctx context.Context) (map[string]any, error) {
	merged := map[string]any{}
	for _, src := range r.sources {
		r.log.V(1).Info("reading source", "source", src.String())
		layer, err := src.Layer(ctx)
		if err != nil {
			if IsRecoverable(err) {
				r.log.Info("source unavailable, skipping layer", "source", src.String(), "error", err.Error())
				continue
			}
			return nil, err
		}
		if merged, err = Merge(merged, layer); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// ErrAlreadyWatched is returned when Watch is called twice on one registry.
// Watcher registration is not idempotent, so a second call would
// double-register handlers.
var ErrAlreadyWatched = errors.New("source registry is already being watched")

// Watch asks every source to begin watching and then blocks, invoking
// onChange for each notification. Cycles are strictly serialized: a new
// notification is not accepted until onChange returns. Watch returns nil
// when ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, onChange func(*Registry)) error {
	if r.watched {
		return ErrAlreadyWatched
	}
	r.watched = true

	notifier := &Notifier{ch: r.notify, log: r.log}
	for _, src := range r.sources {
		r.log.V(1).Info("watching source", "source", src.String())
		if err := src.Watch(ctx, notifier); err != nil {
			r.log.Error(err, "could not watch source", "source", src.String())
		}
	}

	for {
		select {
		case <-ctx.Done():
			r.log.V(1).Info("watch loop terminated")
			return nil
		case <-r.notify:
			onChange(r)
		}
	}
}
