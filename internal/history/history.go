// Package history implements the Change History: an append-only, per
// configuration record of artifact fingerprints over time, collapsing
// consecutive duplicates.
package history

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/calendar2image/c2i-service/internal/names"
)

// Entry is one recorded change.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	CRC32     string    `json:"crc32"`
	Trigger   string    `json:"trigger"`
	Duration  float64   `json:"duration"`
}

// Run is a derived run-length view of consecutive identical fingerprints,
// for the dashboard collaborator.
type Run struct {
	CRC32     string    `json:"crc32"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Count     int       `json:"count"`
}

// Store reads and writes history files under a single cache directory.
// Appends never propagate an error to the caller; Append logs and
// swallows failures, matching the Timeline Log's fire-and-forget guarantee.
type Store struct {
	dir string
	log *slog.Logger

	mu sync.Mutex
}

// New returns a Store rooted at dir.
func New(dir string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{dir: dir, log: log}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, names.ToCacheName(name)+".history.json")
}

// Append records a new fingerprint for name unless it matches the most
// recent entry, in which case it is a no-op. Failures are logged, never
// returned: observability must not break the data path.
func (s *Store) Append(name, crc32, trigger string, duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readLocked(name)
	if err != nil {
		s.log.Warn("failed to read history before append", "name", name, "error", err)
		entries = nil
	}

	// entries is on disk oldest-first; the last element is the most recent.
	if len(entries) > 0 && entries[len(entries)-1].CRC32 == crc32 {
		return
	}

	newEntry := Entry{
		Timestamp: time.Now().UTC(),
		CRC32:     crc32,
		Trigger:   trigger,
		Duration:  duration,
	}
	entries = append(entries, newEntry)

	if err := s.writeLocked(name, entries); err != nil {
		s.log.Warn("failed to persist history", "name", name, "error", err)
	}
}

// Read returns the newest-first entry list for name. The on-disk file is
// kept oldest-first (the authoritative filesystem layout); Read reverses it
// for callers, matching the append/read contract.
func (s *Store) Read(name string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readLocked(name)
	if err != nil {
		return nil
	}
	return reversed(entries)
}

func reversed(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

// Runs derives the run-length view from the newest-first entry list.
func Runs(entries []Entry) []Run {
	if len(entries) == 0 {
		return nil
	}

	// entries is newest-first; walk oldest-first to build runs in
	// chronological order.
	chronological := make([]Entry, len(entries))
	for i, e := range entries {
		chronological[len(entries)-1-i] = e
	}

	var runs []Run
	for _, e := range chronological {
		if len(runs) > 0 && runs[len(runs)-1].CRC32 == e.CRC32 {
			runs[len(runs)-1].EndTime = e.Timestamp
			runs[len(runs)-1].Count++
			continue
		}
		runs = append(runs, Run{
			CRC32:     e.CRC32,
			StartTime: e.Timestamp,
			EndTime:   e.Timestamp,
			Count:     1,
		})
	}
	return runs
}

func (s *Store) readLocked(name string) ([]Entry, error) {
	raw, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) writeLocked(name string, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	path := s.path(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
