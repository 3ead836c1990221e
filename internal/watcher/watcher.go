// Package watcher detects configuration files being added, changed, or
// deleted in the configuration directory and emits a single debounced event
// per settled change, so the Scheduler never reacts to a half-written file.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/calendar2image/c2i-service/internal/names"
)

// EventKind classifies a settled change.
type EventKind string

const (
	EventAdd    EventKind = "add"
	EventChange EventKind = "change"
	EventDelete EventKind = "delete"
)

// Event is emitted once a file's writes have settled.
type Event struct {
	Kind EventKind
	Name string // sanitized file-form stem, without ".json"
}

const (
	debounceWindow = 150 * time.Millisecond
	pollInterval   = 2 * time.Second
)

type fileState struct {
	mtime time.Time
	size  int64
}

// Watcher watches a directory of "*.json" configuration files and emits
// Events on Events() for every add, change, or delete whose stem passes the
// Name Sanitizer.
type Watcher struct {
	dir      string
	log      *slog.Logger
	events   chan Event
	poll     time.Duration
	debounce time.Duration

	mu     sync.Mutex
	known  map[string]fileState
	timers map[string]*time.Timer
	closed bool
	fsw    *fsnotify.Watcher

	stop chan struct{}
	done chan struct{}
}

// New creates a Watcher rooted at dir. Call Start to begin emitting.
func New(dir string, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		log:      log,
		events:   make(chan Event, 64),
		poll:     pollInterval,
		debounce: debounceWindow,
		known:    make(map[string]fileState),
		timers:   make(map[string]*time.Timer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetIntervals overrides the polling sweep period and write-settled debounce
// window. Zero or negative values leave the corresponding default in place.
// Call before Start.
func (w *Watcher) SetIntervals(poll, debounce time.Duration) {
	if poll > 0 {
		w.poll = poll
	}
	if debounce > 0 {
		w.debounce = debounce
	}
}

// Events returns the channel on which settled events are delivered. It is
// closed once Stop completes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start performs an initial directory scan to seed known state, then begins
// native notification (best-effort) and the polling sweep. Start returns
// once the initial scan is complete; the watch loops run in background
// goroutines until Stop is called.
func (w *Watcher) Start() error {
	if err := w.scan(false); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn("fsnotify unavailable, relying on polling sweep only", "error", err)
	} else if err := fsw.Add(w.dir); err != nil {
		w.log.Warn("fsnotify could not watch directory, relying on polling sweep only", "dir", w.dir, "error", err)
		fsw.Close()
		fsw = nil
	}
	w.fsw = fsw

	go w.loop()
	return nil
}

// Stop halts both the native watcher and the polling sweep, then closes the
// event channel.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.closed = true
	w.mu.Unlock()

	close(w.events)
}

func (w *Watcher) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if w.fsw != nil {
		fsEvents = w.fsw.Events
		fsErrors = w.fsw.Errors
		defer w.fsw.Close()
	}

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.scan(true); err != nil {
				w.log.Warn("polling sweep failed", "error", err)
			}
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			w.handleNativeEvent(ev)
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			w.log.Warn("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handleNativeEvent(ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, ".json") {
		return
	}
	stem := strings.TrimSuffix(filepath.Base(ev.Name), ".json")
	name, err := names.Sanitize(stem)
	if err != nil {
		return
	}

	if ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0 {
		w.scheduleDelete(name)
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
		w.scheduleCheck(name)
	}
}

// scan walks the directory once, comparing (mtime, size) against known
// state. When emit is false (the initial scan) it only seeds state without
// emitting events, so startup does not replay every existing configuration
// as an "add".
func (w *Watcher) scan(emit bool) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), ".json")
		name, err := names.Sanitize(stem)
		if err != nil {
			continue
		}
		seen[name] = true

		info, err := entry.Info()
		if err != nil {
			continue
		}
		state := fileState{mtime: info.ModTime(), size: info.Size()}

		w.mu.Lock()
		prev, known := w.known[name]
		changed := !known || prev != state
		if !emit {
			// Initial scan only seeds state; emitting scans leave the
			// update to the debounce callback so an unknown name still
			// surfaces as an add.
			w.known[name] = state
		}
		w.mu.Unlock()

		if changed && emit {
			w.scheduleCheck(name)
		}
	}

	if emit {
		w.mu.Lock()
		var gone []string
		for name := range w.known {
			if !seen[name] {
				gone = append(gone, name)
			}
		}
		w.mu.Unlock()
		for _, name := range gone {
			w.scheduleDelete(name)
		}
	}

	return nil
}

// scheduleCheck debounces an add-or-change signal for name: repeated calls
// within debounceWindow reset the timer, so only the final settled state is
// emitted.
func (w *Watcher) scheduleCheck(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	_, wasKnown := w.known[name]
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		kind := EventChange
		if !wasKnown {
			kind = EventAdd
		}
		// Record the settled state so the next polling sweep doesn't emit a
		// second change for writes already delivered natively.
		if info, err := os.Stat(filepath.Join(w.dir, name+".json")); err == nil {
			w.mu.Lock()
			w.known[name] = fileState{mtime: info.ModTime(), size: info.Size()}
			w.mu.Unlock()
		}
		w.emit(Event{Kind: kind, Name: name})
	})
}

func (w *Watcher) scheduleDelete(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	delete(w.known, name)
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		w.emit(Event{Kind: EventDelete, Name: name})
	})
}

// emit delivers ev unless the watcher has been stopped. The channel send is
// non-blocking under the mutex that also guards the closed flag; with the
// subscriber draining continuously, a full buffer means it is gone, and the
// event is dropped rather than wedging a timer callback forever.
func (w *Watcher) emit(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.events <- ev:
	default:
		w.log.Warn("event channel full, dropping event", "name", ev.Name, "kind", ev.Kind)
	}
}
