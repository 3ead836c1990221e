// Package pipeline implements the worker's internal generation sequence:
// load configuration, fetch calendar events and auxiliary data in parallel,
// render, post-process, and return the encoded artifact. It is what runs
// inside the isolated subprocess the Worker Dispatch spawns.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/calendar2image/c2i-service/internal/apperrors"
	"github.com/calendar2image/c2i-service/internal/auxfetch"
	"github.com/calendar2image/c2i-service/internal/fingerprint"
	"github.com/calendar2image/c2i-service/internal/icsfetch"
	"github.com/calendar2image/c2i-service/internal/registry"
	"github.com/calendar2image/c2i-service/internal/renderer"
	"github.com/calendar2image/c2i-service/internal/worker"
)

// ICSFetcher fetches and merges calendar events for a configuration.
type ICSFetcher interface {
	FetchAll(ctx context.Context, cfg *registry.Config) []icsfetch.Event
}

// AuxFetcher fetches a single auxiliary JSON document.
type AuxFetcher interface {
	Fetch(ctx context.Context, req auxfetch.Request) json.RawMessage
}

// ConfigLoader loads a single Configuration Record by name.
type ConfigLoader interface {
	Load(name string) (*registry.Config, error)
}

// Pipeline wires the Config Registry, fetchers, and rendering collaborators
// into one Generate call.
type Pipeline struct {
	registry ConfigLoader
	ics      ICSFetcher
	aux      AuxFetcher
	render   renderer.Renderer
	post     renderer.PostProcessor
	log      *slog.Logger
}

// New returns a Pipeline. reg, render and post must be non-nil; either
// fetcher may be nil, in which case it simply contributes no data to the
// render.
func New(reg ConfigLoader, ics ICSFetcher, aux AuxFetcher, render renderer.Renderer, post renderer.PostProcessor, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{registry: reg, ics: ics, aux: aux, render: render, post: post, log: log}
}

// Generate runs the full pipeline for name and returns the artifact ready
// for the Artifact Cache and Change History.
func (p *Pipeline) Generate(ctx context.Context, name string) (*worker.Record, error) {
	start := time.Now()

	cfg, err := p.registry.Load(name)
	if err != nil {
		return nil, err
	}

	events, extraData := p.fetchInputs(ctx, name, cfg)

	img, err := p.render.Render(ctx, renderer.RenderInput{Config: cfg, Events: events, ExtraData: extraData})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "rendering configuration", err)
	}

	data, contentType, err := p.post.Process(ctx, img, cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "post-processing rendered image", err)
	}

	return &worker.Record{
		Bytes:              data,
		ContentType:        contentType,
		ImageType:          string(cfg.ImageType),
		CRC32:              fingerprint.Of(data),
		GenerationDuration: time.Since(start).Seconds(),
		EventCount:         len(events),
	}, nil
}

// fetchInputs runs the ICS and auxiliary-data fetches concurrently, matching
// the "in parallel" step of the worker pipeline contract.
func (p *Pipeline) fetchInputs(ctx context.Context, name string, cfg *registry.Config) ([]icsfetch.Event, json.RawMessage) {
	var events []icsfetch.Event
	var extraData json.RawMessage

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if p.ics == nil || !cfg.ICSURL.IsSet() {
			return
		}
		events = p.ics.FetchAll(ctx, cfg)
	}()

	go func() {
		defer wg.Done()
		extraData = p.fetchExtraData(ctx, name, cfg)
	}()

	wg.Wait()
	return events, extraData
}

func (p *Pipeline) fetchExtraData(ctx context.Context, name string, cfg *registry.Config) json.RawMessage {
	if p.aux == nil || !cfg.ExtraDataURL.IsSet() {
		return json.RawMessage(`{}`)
	}

	sources := cfg.ExtraDataURL.Sources
	results := make([]json.RawMessage, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src registry.ExtraDataSource) {
			defer wg.Done()

			// A source-level cacheTtl wins when present, even an explicit
			// 0 (always refetch); only an absent one falls back to the
			// configuration-level TTL.
			ttl := 0
			switch {
			case src.CacheTTL != nil:
				ttl = *src.CacheTTL
			case cfg.ExtraDataCacheTTL != nil:
				ttl = *cfg.ExtraDataCacheTTL
			}
			headers := src.Headers
			if headers == nil {
				headers = cfg.ExtraDataHeaders
			}

			results[i] = p.aux.Fetch(ctx, auxfetch.Request{
				URL:        src.URL,
				CacheTTL:   time.Duration(ttl) * time.Second,
				Headers:    headers,
				ConfigName: name,
			})
		}(i, src)
	}
	wg.Wait()

	if len(results) == 1 {
		return results[0]
	}
	merged, err := json.Marshal(results)
	if err != nil {
		p.log.Warn("merging auxiliary data sources failed", "name", name, "error", err)
		return json.RawMessage(`[]`)
	}
	return merged
}
