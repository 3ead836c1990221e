package auxfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_NoEntrySynchronouslyFetches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"weather":"sunny"}`))
	}))
	defer srv.Close()

	f := New(t.TempDir(), nil, nil, nil)
	data := f.Fetch(context.Background(), Request{URL: srv.URL, CacheTTL: time.Minute})
	assert.JSONEq(t, `{"weather":"sunny"}`, string(data))
}

func TestFetch_FailedRequestReturnsEmptyObject(t *testing.T) {
	f := New(t.TempDir(), nil, nil, nil)
	data := f.Fetch(context.Background(), Request{URL: "http://127.0.0.1:0/nope", CacheTTL: time.Minute})
	assert.JSONEq(t, `{}`, string(data))
}

func TestFetch_FreshEntryIsCacheHitWithoutNetworkCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"n":1}`))
	}))
	defer srv.Close()

	f := New(t.TempDir(), nil, nil, nil)
	req := Request{URL: srv.URL, CacheTTL: time.Minute}

	first := f.Fetch(context.Background(), req)
	second := f.Fetch(context.Background(), req)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetch_StaleEntryReturnsImmediatelyAndRefreshesInBackground(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"n":` + strconv.Itoa(int(n)) + `}`))
	}))
	defer srv.Close()

	f := New(t.TempDir(), nil, nil, nil)
	req := Request{URL: srv.URL, CacheTTL: 10 * time.Millisecond}

	first := f.Fetch(context.Background(), req)
	require.Equal(t, `{"n":1}`, string(first))

	time.Sleep(20 * time.Millisecond)

	stale := f.Fetch(context.Background(), req)
	assert.Equal(t, `{"n":1}`, string(stale))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestFetch_StaleEntrySpawnsAtMostOneRefreshPerKey(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) > 1 {
			<-release
		}
		w.Write([]byte(`{"n":1}`))
	}))
	defer srv.Close()

	f := New(t.TempDir(), nil, nil, nil)
	req := Request{URL: srv.URL, CacheTTL: time.Millisecond}

	f.Fetch(context.Background(), req)
	time.Sleep(5 * time.Millisecond)

	// Every one of these sees a stale entry; only the first may start a
	// background refresh while it is still in flight.
	for i := 0; i < 10; i++ {
		f.Fetch(context.Background(), req)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, 3*time.Second, 10*time.Millisecond)
	close(release)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "only one refresh may be in flight per key")
}
