// Package timeline implements the Timeline Log: a per configuration,
// newest-first, 24-hour-retained event log. Append failures must never
// propagate, since observability must not break the data path.
package timeline

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calendar2image/c2i-service/internal/names"
)

const retention = 24 * time.Hour

// EventType is one of the closed top-level event categories.
type EventType string

const (
	EventGeneration EventType = "generation"
	EventDownload   EventType = "download"
	EventICS        EventType = "ics"
	EventExtraData  EventType = "extra_data"
	EventConfig     EventType = "config"
	EventSystem     EventType = "system"
	EventError      EventType = "error"
)

// Event is one recorded occurrence on a configuration's timeline. Subtype is
// a closed set per EventType (e.g. generation:{scheduled,on_demand,boot}),
// enforced by callers rather than the type system.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	ConfigName  string                 `json:"configName"`
	EventType   EventType              `json:"eventType"`
	EventSubtype string                `json:"eventSubtype,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Log reads and writes timeline files under a single directory.
type Log struct {
	dir string
	log *slog.Logger

	mu sync.Mutex
}

// New returns a Log rooted at dir.
func New(dir string, log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{dir: dir, log: log}
}

func (l *Log) path(name string) string {
	return filepath.Join(l.dir, names.ToCacheName(name)+".timeline.json")
}

// Append records a new event for name, pruning entries older than 24h.
// Failures are logged, never returned.
func (l *Log) Append(name string, eventType EventType, subtype string, metadata map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readLocked(name)
	if err != nil {
		l.log.Warn("failed to read timeline before append", "name", name, "error", err)
		events = nil
	}

	now := time.Now().UTC()
	events = pruneBefore(events, now.Add(-retention))

	events = append([]Event{{
		ID:           uuid.NewString(),
		Timestamp:    now,
		ConfigName:   name,
		EventType:    eventType,
		EventSubtype: subtype,
		Metadata:     metadata,
	}}, events...)

	if err := l.writeLocked(name, events); err != nil {
		l.log.Warn("failed to persist timeline", "name", name, "error", err)
	}
}

// Read returns the pruned, newest-first event list for name, lazily
// rewriting the file when pruning removed entries.
func (l *Log) Read(name string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readLocked(name)
	if err != nil {
		return nil
	}

	pruned := pruneBefore(events, time.Now().UTC().Add(-retention))
	if len(pruned) != len(events) {
		if err := l.writeLocked(name, pruned); err != nil {
			l.log.Warn("failed to persist pruned timeline", "name", name, "error", err)
		}
	}
	return pruned
}

func pruneBefore(events []Event, cutoff time.Time) []Event {
	kept := events[:0:0]
	for _, e := range events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

func (l *Log) readLocked(name string) ([]Event, error) {
	raw, err := os.ReadFile(l.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (l *Log) writeLocked(name string, events []Event) error {
	data, err := json.Marshal(events)
	if err != nil {
		return err
	}

	path := l.path(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
