package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calendar2image/c2i-service/internal/apperrors"
	"github.com/calendar2image/c2i-service/internal/metrics"
	"github.com/calendar2image/c2i-service/internal/registry"
	"github.com/calendar2image/c2i-service/internal/timeline"
)

type fakeConfigs struct {
	mu      sync.Mutex
	configs map[string]*registry.Config
}

func newFakeConfigs() *fakeConfigs {
	return &fakeConfigs{configs: make(map[string]*registry.Config)}
}

func (f *fakeConfigs) set(name string, cfg *registry.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[name] = cfg
}

func (f *fakeConfigs) Load(name string) (*registry.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[name]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "not found")
	}
	return cfg, nil
}

func (f *fakeConfigs) LoadAll() ([]registry.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []registry.Entry
	for name, cfg := range f.configs {
		entries = append(entries, registry.Entry{Name: name, Config: cfg})
	}
	return entries, nil
}

type fakeDispatcher struct {
	calls int32
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, name, trigger string) error {
	atomic.AddInt32(&f.calls, 1)
	return nil
}

func (f *fakeDispatcher) count() int {
	return int(atomic.LoadInt32(&f.calls))
}

func TestInit_SchedulesConfigsWithInterval(t *testing.T) {
	configs := newFakeConfigs()
	configs.set("kitchen", &registry.Config{Template: "classic", PreGenerateInterval: "*/5 * * * * *"})
	configs.set("norsv", &registry.Config{Template: "classic"})

	dispatcher := &fakeDispatcher{}
	s := New(configs, dispatcher, nil, nil, nil, nil)
	require.NoError(t, s.Init())
	defer s.StopAll()

	s.mu.Lock()
	_, hasKitchen := s.tasks["kitchen"]
	_, hasNorsv := s.tasks["norsv"]
	s.mu.Unlock()

	assert.True(t, hasKitchen)
	assert.False(t, hasNorsv)
}

func TestScheduleIfNeeded_MissingConfigCancelsTask(t *testing.T) {
	configs := newFakeConfigs()
	configs.set("kitchen", &registry.Config{Template: "classic", PreGenerateInterval: "*/5 * * * * *"})

	dispatcher := &fakeDispatcher{}
	s := New(configs, dispatcher, nil, nil, nil, nil)
	require.NoError(t, s.Init())
	defer s.StopAll()

	s.mu.Lock()
	_, ok := s.tasks["kitchen"]
	s.mu.Unlock()
	require.True(t, ok)

	f := configs
	f.mu.Lock()
	delete(f.configs, "kitchen")
	f.mu.Unlock()

	s.ScheduleIfNeeded("kitchen", false)

	s.mu.Lock()
	_, ok = s.tasks["kitchen"]
	s.mu.Unlock()
	assert.False(t, ok)
}

func TestScheduleIfNeeded_FiresConfigChangeTrigger(t *testing.T) {
	configs := newFakeConfigs()
	configs.set("kitchen", &registry.Config{Template: "classic", PreGenerateInterval: "*/5 * * * * *"})

	dispatcher := &fakeDispatcher{}
	s := New(configs, dispatcher, nil, nil, nil, nil)
	require.NoError(t, s.Init())
	defer s.StopAll()

	s.ScheduleIfNeeded("kitchen", true)

	require.Eventually(t, func() bool {
		return dispatcher.count() >= 1
	}, time.Second, 10*time.Millisecond)
}

// blockingDispatcher parks its first Dispatch until released, so a test can
// hold a tick in flight while firing an overlapping one.
type blockingDispatcher struct {
	started chan struct{}
	release chan struct{}
	calls   int32
}

func (d *blockingDispatcher) Dispatch(ctx context.Context, name, trigger string) error {
	if atomic.AddInt32(&d.calls, 1) == 1 {
		close(d.started)
	}
	<-d.release
	return nil
}

func TestTickFunc_OverlappingTickIsDroppedAndRecorded(t *testing.T) {
	mr := metrics.NewRegistry()
	tl := timeline.New(t.TempDir(), nil)
	d := &blockingDispatcher{started: make(chan struct{}), release: make(chan struct{})}
	s := New(newFakeConfigs(), d, nil, tl, mr, nil)

	skippedBefore := testutil.ToFloat64(mr.SchedulerTicksTotal.WithLabelValues("kitchen", "skipped_overlap"))
	firedBefore := testutil.ToFloat64(mr.SchedulerTicksTotal.WithLabelValues("kitchen", "fired"))

	tick := s.tickFunc("kitchen")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick()
	}()
	<-d.started

	// The first tick is still dispatching; this one must be dropped.
	tick()

	close(d.release)
	wg.Wait()

	assert.Equal(t, 1, int(atomic.LoadInt32(&d.calls)), "dropped tick must not dispatch")
	assert.Equal(t, 1.0, testutil.ToFloat64(mr.SchedulerTicksTotal.WithLabelValues("kitchen", "fired"))-firedBefore)
	assert.Equal(t, 1.0, testutil.ToFloat64(mr.SchedulerTicksTotal.WithLabelValues("kitchen", "skipped_overlap"))-skippedBefore)

	events := tl.Read("kitchen")
	require.Len(t, events, 1)
	assert.Equal(t, timeline.EventSystem, events[0].EventType)
	assert.Equal(t, "scheduler_tick_skipped", events[0].EventSubtype)
}

func TestScheduleIfNeeded_RepeatedCallsLeaveOneTask(t *testing.T) {
	configs := newFakeConfigs()
	configs.set("kitchen", &registry.Config{Template: "classic", PreGenerateInterval: "*/5 * * * * *"})

	dispatcher := &fakeDispatcher{}
	s := New(configs, dispatcher, nil, nil, nil, nil)
	require.NoError(t, s.Init())
	defer s.StopAll()

	s.ScheduleIfNeeded("kitchen", false)
	s.ScheduleIfNeeded("kitchen", false)
	s.ScheduleIfNeeded("kitchen", false)

	s.mu.Lock()
	taskCount := len(s.tasks)
	s.mu.Unlock()
	assert.Equal(t, 1, taskCount)
	assert.Len(t, s.cronRunner.Entries(), 1, "reinstall must remove the prior cron entry")
}

func TestGenerateAllNow_CountsSuccessesAndFailures(t *testing.T) {
	configs := newFakeConfigs()
	configs.set("a", &registry.Config{Template: "classic", PreGenerateInterval: "*/5 * * * * *"})
	configs.set("b", &registry.Config{Template: "classic", PreGenerateInterval: "*/5 * * * * *"})

	dispatcher := &fakeDispatcher{}
	s := New(configs, dispatcher, nil, nil, nil, nil)
	require.NoError(t, s.Init())
	defer s.StopAll()

	succeeded, failed := s.GenerateAllNow(context.Background())
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 0, failed)
}
