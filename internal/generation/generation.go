// Package generation is the single point that turns a Worker Dispatch
// result into a committed Artifact Cache entry, so neither the Scheduler
// nor the HTTP Front Door has to duplicate that sequencing.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calendar2image/c2i-service/internal/cache"
	"github.com/calendar2image/c2i-service/internal/metrics"
	"github.com/calendar2image/c2i-service/internal/timeline"
	"github.com/calendar2image/c2i-service/internal/worker"
)

// WorkerDispatcher spawns the isolated generation subprocess.
type WorkerDispatcher interface {
	Dispatch(ctx context.Context, name, trigger string) (*worker.Record, error)
}

// Coordinator dispatches a worker and, on success, commits its result to
// the Artifact Cache. It satisfies the Dispatcher interface both the
// Scheduler and the HTTP Front Door depend on.
type Coordinator struct {
	worker   WorkerDispatcher
	cache    *cache.Cache
	timeline *timeline.Log
	metrics  *metrics.Registry
	log      *slog.Logger
}

// New returns a Coordinator wiring w, c, and tl. tl may be nil, in which
// case generation and error events are simply not recorded.
func New(w WorkerDispatcher, c *cache.Cache, tl *timeline.Log, mr *metrics.Registry, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{worker: w, cache: c, timeline: tl, metrics: mr, log: log}
}

// Dispatch runs one generation for name with trigger, saving the result to
// the Artifact Cache on success. Callers needing the bytes read them back
// from the Cache afterward; the Cache is the single source of truth for a
// committed artifact. A failed dispatch (worker timeout, crash, or render
// error) never touches the Cache, so the previously committed artifact, if
// any, is left exactly as it was.
func (c *Coordinator) Dispatch(ctx context.Context, name, trigger string) error {
	start := time.Now()
	rec, err := c.worker.Dispatch(ctx, name, trigger)
	duration := time.Since(start).Seconds()

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if c.metrics != nil {
		c.metrics.DispatchTotal.WithLabelValues(trigger, outcome).Inc()
		c.metrics.DispatchDuration.WithLabelValues(trigger, outcome).Observe(duration)
	}
	if err != nil {
		if c.timeline != nil {
			c.timeline.Append(name, timeline.EventError, "generation_error", map[string]interface{}{
				"trigger": trigger,
				"error":   err.Error(),
			})
		}
		return fmt.Errorf("dispatching generation for %q: %w", name, err)
	}

	if _, err := c.cache.Save(name, rec.Bytes, rec.ContentType, rec.ImageType, trigger, rec.GenerationDuration); err != nil {
		if c.timeline != nil {
			c.timeline.Append(name, timeline.EventError, "generation_error", map[string]interface{}{
				"trigger": trigger,
				"error":   err.Error(),
			})
		}
		return fmt.Errorf("saving artifact for %q: %w", name, err)
	}

	if c.timeline != nil {
		c.timeline.Append(name, timeline.EventGeneration, trigger, map[string]interface{}{
			"durationSeconds": duration,
		})
	}
	return nil
}
