// Package service is the process-lifecycle owner: it constructs every
// collaborator (Config Registry, Artifact Cache, Change History, Timeline
// Log, Auxiliary Fetcher, Scheduler, HTTP Front Door) and exposes a single
// Init/Stop pair, so main.go never touches a package-level global.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/calendar2image/c2i-service/internal/auxfetch"
	"github.com/calendar2image/c2i-service/internal/cache"
	"github.com/calendar2image/c2i-service/internal/config"
	"github.com/calendar2image/c2i-service/internal/generation"
	"github.com/calendar2image/c2i-service/internal/history"
	"github.com/calendar2image/c2i-service/internal/httpapi"
	"github.com/calendar2image/c2i-service/internal/icsfetch"
	"github.com/calendar2image/c2i-service/internal/metrics"
	"github.com/calendar2image/c2i-service/internal/pipeline"
	"github.com/calendar2image/c2i-service/internal/registry"
	"github.com/calendar2image/c2i-service/internal/renderer"
	"github.com/calendar2image/c2i-service/internal/scheduler"
	"github.com/calendar2image/c2i-service/internal/timeline"
	"github.com/calendar2image/c2i-service/internal/watcher"
	"github.com/calendar2image/c2i-service/internal/worker"
)

// Service owns every long-lived collaborator in the generation control
// plane. Construct with New, call Init to start background activity, and
// Stop to shut it down in reverse order.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	Registry  *registry.Registry
	Cache     *cache.Cache
	History   *history.Store
	Timeline  *timeline.Log
	AuxFetch  *auxfetch.Fetcher
	ICSFetch  *icsfetch.Fetcher
	Metrics   *metrics.Registry
	Scheduler *scheduler.Scheduler
	HTTP      *httpapi.Server

	coordinator *generation.Coordinator
}

// New constructs the full collaborator graph without starting any
// background activity. executablePath is the binary re-invoked with the
// hidden "internal-worker" subcommand for each generation dispatch.
func New(cfg *config.Config, executablePath string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	mr := metrics.NewRegistry()

	reg := registry.New(cfg.Directories.Config)
	hist := history.New(cfg.Directories.Cache, log)
	c := cache.New(cfg.Directories.Cache, hist)
	tl := timeline.New(cfg.Directories.Cache, log)
	aux := auxfetch.New(cfg.Directories.Cache, tl, mr, log)
	aux.SetTimeout(cfg.Fetch.AuxTimeout)
	ics := icsfetch.New(mr, log)
	ics.SetTimeout(cfg.Fetch.ICSTimeout)

	spawner := worker.ExecSpawner{ExecutablePath: executablePath}
	dispatcher := worker.New(spawner, log)
	dispatcher.SetTimeout(cfg.Worker.Timeout)
	coord := generation.New(dispatcher, c, tl, mr, log)

	w := watcher.New(cfg.Directories.Config, log)
	w.SetIntervals(cfg.Watcher.PollInterval, cfg.Watcher.Debounce)
	sched := scheduler.New(reg, coord, w, tl, mr, log)

	srv := httpapi.New(reg, c, coord, tl, mr, log)

	return &Service{
		cfg:         cfg,
		log:         log,
		Registry:    reg,
		Cache:       c,
		History:     hist,
		Timeline:    tl,
		AuxFetch:    aux,
		ICSFetch:    ics,
		Metrics:     mr,
		Scheduler:   sched,
		HTTP:        srv,
		coordinator: coord,
	}
}

// NewPipeline builds the worker-side generation Pipeline sharing this
// Service's Registry, fetchers, and rendering collaborators. It is what the
// hidden "internal-worker" subcommand runs; it is never used by the server
// process itself (the server only ever talks to the worker over stdio).
func (s *Service) NewPipeline() *pipeline.Pipeline {
	return pipeline.New(s.Registry, s.ICSFetch, s.AuxFetch, renderer.NewStub(), renderer.NewStandard(), s.log)
}

// Init prepares the cache directory, warms the recent-names index, and
// starts the Scheduler (which in turn starts the Config Watcher). It does
// not start the HTTP listener; the caller owns that via the HTTP field.
func (s *Service) Init(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.Directories.Cache, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	// The config directory is read-only to the service; it must already
	// exist, it is never created here.
	info, err := os.Stat(s.cfg.Directories.Config)
	if err != nil {
		return fmt.Errorf("config directory %q is not accessible: %w", s.cfg.Directories.Config, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config path %q is not a directory", s.cfg.Directories.Config)
	}

	if err := s.Cache.CleanupTemp(); err != nil {
		s.log.Warn("cache temp cleanup failed", "error", err)
	}
	s.Cache.WarmIndex()

	if err := s.Scheduler.Init(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	succeeded, failed := s.Scheduler.GenerateAllNow(ctx)
	s.log.Info("boot generation complete", "succeeded", succeeded, "failed", failed)

	return nil
}

// Stop halts background activity in reverse dependency order.
func (s *Service) Stop() {
	s.Scheduler.StopAll()
}
