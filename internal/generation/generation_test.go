package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calendar2image/c2i-service/internal/cache"
	"github.com/calendar2image/c2i-service/internal/history"
	"github.com/calendar2image/c2i-service/internal/timeline"
	"github.com/calendar2image/c2i-service/internal/worker"
)

type fakeWorker struct {
	record *worker.Record
	err    error
}

func (f *fakeWorker) Dispatch(ctx context.Context, name, trigger string) (*worker.Record, error) {
	return f.record, f.err
}

func TestDispatch_SavesToCacheOnSuccess(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir, history.New(dir, nil))
	w := &fakeWorker{record: &worker.Record{
		Bytes:       []byte("pixels"),
		ContentType: "image/png",
		ImageType:   "png",
	}}

	coord := New(w, c, nil, nil, nil)
	require.NoError(t, coord.Dispatch(context.Background(), "kitchen", "scheduled"))

	data, meta, ok := c.Load("kitchen", "png")
	require.True(t, ok)
	assert.Equal(t, []byte("pixels"), data)
	assert.NotEmpty(t, meta.CRC32)
}

func TestDispatch_WorkerFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir, history.New(dir, nil))
	w := &fakeWorker{err: errors.New("worker crashed")}

	coord := New(w, c, nil, nil, nil)
	err := coord.Dispatch(context.Background(), "kitchen", "scheduled")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker crashed")

	_, _, ok := c.Load("kitchen", "png")
	assert.False(t, ok)
}

func TestDispatch_RecordsGenerationEventOnSuccess(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir, history.New(dir, nil))
	tl := timeline.New(dir, nil)
	w := &fakeWorker{record: &worker.Record{
		Bytes:       []byte("pixels"),
		ContentType: "image/png",
		ImageType:   "png",
	}}

	coord := New(w, c, tl, nil, nil)
	require.NoError(t, coord.Dispatch(context.Background(), "kitchen", "scheduled"))

	events := tl.Read("kitchen")
	require.Len(t, events, 1)
	assert.Equal(t, timeline.EventGeneration, events[0].EventType)
	assert.Equal(t, "scheduled", events[0].EventSubtype)
}

// TestDispatch_RecordsErrorEventOnWorkerTimeout covers scenario S7: a worker
// dispatch that times out must leave an error:generation_error timeline
// event behind and must not touch the cached artifact.
func TestDispatch_RecordsErrorEventOnWorkerTimeout(t *testing.T) {
	dir := t.TempDir()
	c := cache.New(dir, history.New(dir, nil))
	tl := timeline.New(dir, nil)
	w := &fakeWorker{err: context.DeadlineExceeded}

	coord := New(w, c, tl, nil, nil)
	err := coord.Dispatch(context.Background(), "kitchen", "scheduled")
	require.Error(t, err)

	events := tl.Read("kitchen")
	require.Len(t, events, 1)
	assert.Equal(t, timeline.EventError, events[0].EventType)
	assert.Equal(t, "generation_error", events[0].EventSubtype)

	_, _, ok := c.Load("kitchen", "png")
	assert.False(t, ok)
}
