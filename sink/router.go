package sink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/visreg/artifact"
)

// Router fans out reports to all configured sinks. One sink error does not
// block the others: errors are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) SendDiff(ctx context.Context, d *artifact.VisualDiff) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendDiff(ctx, d); err != nil {
			r.logger.Warn("sink: send diff failed", "diff", d.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendScreenshot(ctx context.Context, shot *artifact.Screenshot) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendScreenshot(ctx, shot); err != nil {
			r.logger.Warn("sink: send screenshot failed", "screenshot", shot.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
