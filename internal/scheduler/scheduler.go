// Package scheduler drives per-configuration cron tasks that trigger
// generation worker dispatches, subscribing to the Config Watcher for
// add/change/delete notifications.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/calendar2image/c2i-service/internal/apperrors"
	"github.com/calendar2image/c2i-service/internal/metrics"
	"github.com/calendar2image/c2i-service/internal/registry"
	"github.com/calendar2image/c2i-service/internal/timeline"
	"github.com/calendar2image/c2i-service/internal/watcher"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ConfigSource loads configurations by name, as the Config Registry does.
type ConfigSource interface {
	Load(name string) (*registry.Config, error)
	LoadAll() ([]registry.Entry, error)
}

// Dispatcher fires one generation for name with the given trigger.
type Dispatcher interface {
	Dispatch(ctx context.Context, name, trigger string) error
}

type task struct {
	cronExpr    string
	entryID     cron.EntryID
	scheduledAt time.Time
}

// Scheduler owns one cron.Cron instance and a map from configuration name
// to its active task, guarded by a single mutex (the single-writer
// structure the rest of the control plane reads through Dispatch calls).
type Scheduler struct {
	configs    ConfigSource
	dispatcher Dispatcher
	watch      *watcher.Watcher
	timeline   *timeline.Log
	metrics    *metrics.Registry
	log        *slog.Logger

	cronRunner *cron.Cron

	mu    sync.Mutex
	tasks map[string]*task

	wg   sync.WaitGroup
	stop chan struct{}
}

// New constructs a Scheduler. Call Init to load configurations and start
// watching.
func New(configs ConfigSource, dispatcher Dispatcher, watch *watcher.Watcher, tl *timeline.Log, mr *metrics.Registry, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		configs:    configs,
		dispatcher: dispatcher,
		watch:      watch,
		timeline:   tl,
		metrics:    mr,
		log:        log,
		cronRunner: cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC)),
		tasks:      make(map[string]*task),
		stop:       make(chan struct{}),
	}
}

// Init loads every configuration, schedules those carrying a
// preGenerateInterval, starts the underlying cron runner, and begins
// watching the configuration directory for changes.
func (s *Scheduler) Init() error {
	entries, err := s.configs.LoadAll()
	if err != nil {
		s.log.Warn("loading configurations during scheduler init encountered failures", "error", err)
	}

	for _, e := range entries {
		s.install(e.Name, e.Config)
	}

	s.cronRunner.Start()

	if s.watch != nil {
		if err := s.watch.Start(); err != nil {
			return err
		}
		s.wg.Add(1)
		go s.watchLoop()
	}

	return nil
}

func (s *Scheduler) watchLoop() {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-s.watch.Events():
			if !ok {
				return
			}
			s.handleWatchEvent(ev)
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) handleWatchEvent(ev watcher.Event) {
	switch ev.Kind {
	case watcher.EventDelete:
		s.cancel(ev.Name)
	case watcher.EventAdd, watcher.EventChange:
		s.ScheduleIfNeeded(ev.Name, true)
	}
}

// GenerateAllNow synchronously fires one generation for every scheduled
// configuration with trigger "boot", returning success and failure counts.
func (s *Scheduler) GenerateAllNow(ctx context.Context) (succeeded, failed int) {
	s.mu.Lock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.dispatcher.Dispatch(ctx, name, "boot"); err != nil {
			s.log.Warn("boot generation failed", "name", name, "error", err)
			failed++
			continue
		}
		succeeded++
	}
	return succeeded, failed
}

// ScheduleIfNeeded reloads the configuration named name. If it carries a
// preGenerateInterval, a cron task is (re)installed, optionally firing once
// immediately with trigger "config_change". If the interval is absent, any
// existing task is cancelled.
func (s *Scheduler) ScheduleIfNeeded(name string, generateNow bool) {
	cfg, err := s.configs.Load(name)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			s.cancel(name)
			return
		}
		s.log.Warn("reloading configuration for scheduling failed", "name", name, "error", err)
		return
	}

	s.install(name, cfg)

	if generateNow && cfg.HasSchedule() {
		go func() {
			if err := s.dispatcher.Dispatch(context.Background(), name, "config_change"); err != nil {
				s.log.Warn("config_change generation failed", "name", name, "error", err)
			}
		}()
	}
}

func (s *Scheduler) install(name string, cfg *registry.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[name]; ok {
		s.cronRunner.Remove(existing.entryID)
		delete(s.tasks, name)
	}

	expr := cfg.PreGenerateInterval
	if expr == "" {
		return
	}

	entryID, err := s.cronRunner.AddFunc(expr, s.tickFunc(name))
	if err != nil {
		s.log.Error("rejecting configuration with unparseable cron expression", "name", name, "expr", expr, "error", err)
		return
	}

	s.tasks[name] = &task{cronExpr: expr, entryID: entryID, scheduledAt: time.Now().UTC()}
}

// tickFunc returns the closure invoked by cron on each firing. A tick that
// finds the previous tick for the same configuration still running is
// dropped: it does not dispatch, and it is recorded as skipped in metrics
// and on the timeline.
func (s *Scheduler) tickFunc(name string) func() {
	var running sync.Mutex
	return func() {
		if !running.TryLock() {
			s.log.Info("scheduler tick skipped, previous generation still running", "name", name)
			if s.metrics != nil {
				s.metrics.SchedulerTicksTotal.WithLabelValues(name, "skipped_overlap").Inc()
			}
			if s.timeline != nil {
				s.timeline.Append(name, timeline.EventSystem, "scheduler_tick_skipped", nil)
			}
			return
		}
		defer running.Unlock()

		if s.metrics != nil {
			s.metrics.SchedulerTicksTotal.WithLabelValues(name, "fired").Inc()
		}
		if err := s.dispatcher.Dispatch(context.Background(), name, "scheduled"); err != nil {
			s.log.Warn("scheduled generation failed", "name", name, "error", err)
		}
	}
}

func (s *Scheduler) cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok {
		return
	}
	s.cronRunner.Remove(t.entryID)
	delete(s.tasks, name)
}

// StopAll cancels every task and stops the underlying cron runner and
// Config Watcher.
func (s *Scheduler) StopAll() {
	close(s.stop)

	ctx := s.cronRunner.Stop()
	<-ctx.Done()

	if s.watch != nil {
		s.watch.Stop()
	}
	s.wg.Wait()
}
