package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	cron "github.com/robfig/cron/v3"

	"github.com/calendar2image/c2i-service/internal/apperrors"
	"github.com/calendar2image/c2i-service/internal/names"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

var validate = validator.New()

// Entry pairs a loaded configuration with the external name it was loaded
// under (the file form, not yet reduced to a cache form).
type Entry struct {
	Name   string
	Config *Config
}

// Registry loads Configuration Records from a directory on disk.
type Registry struct {
	dir string
}

// New returns a Registry rooted at dir. dir is expected to exist and be
// readable; New does not itself verify that (the caller, typically service
// startup, treats a missing CONFIG_DIR as fatal).
func New(dir string) *Registry {
	return &Registry{dir: dir}
}

// Load reads, parses, validates, and defaults the configuration named name.
func (r *Registry) Load(name string) (*Config, error) {
	fileForm, err := names.Sanitize(name)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(r.dir, fileForm+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.KindNotFound, fmt.Sprintf("configuration %q not found", fileForm))
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, fmt.Sprintf("reading configuration %q", fileForm), err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidInput, fmt.Sprintf("configuration %q is not valid JSON", fileForm), err)
	}

	cfg.applyDefaults()

	if err := r.validateSemantics(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidInput, fmt.Sprintf("configuration %q failed validation", fileForm), err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidInput, fmt.Sprintf("configuration %q failed schema validation", fileForm), err)
	}

	return &cfg, nil
}

// validateSemantics checks the invariants the struct tags cannot express:
// cron parseability and IANA timezone names.
func (r *Registry) validateSemantics(cfg *Config) error {
	if cfg.PreGenerateInterval != "" {
		if _, err := cronParser.Parse(cfg.PreGenerateInterval); err != nil {
			return fmt.Errorf("preGenerateInterval %q does not parse as cron: %w", cfg.PreGenerateInterval, err)
		}
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("timezone %q is not a recognized IANA name: %w", cfg.Timezone, err)
		}
	}
	return nil
}

// LoadAll enumerates every "*.json" file in the directory, loads each, and
// returns them ordered with purely-decimal names numerically first, then the
// remainder lexicographically. A failure loading any individual entry
// surfaces as a single composite error listing every offending name, rather
// than failing the whole enumeration silently.
func (r *Registry) LoadAll() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, "*.json"))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "enumerating configuration directory", err)
	}

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		stem := filepath.Base(m)
		stem = stem[:len(stem)-len(".json")]
		names = append(names, stem)
	}
	sortNames(names)

	entries := make([]Entry, 0, len(names))
	var failed []string
	var firstErr error
	for _, name := range names {
		cfg, err := r.Load(name)
		if err != nil {
			failed = append(failed, name)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		entries = append(entries, Entry{Name: name, Config: cfg})
	}

	if len(failed) > 0 {
		return entries, apperrors.Wrap(apperrors.KindInvalidInput,
			fmt.Sprintf("failed to load configurations: %v", failed), firstErr)
	}
	return entries, nil
}

// sortNames orders purely-decimal names numerically first, then the
// remainder lexicographically.
func sortNames(ns []string) {
	sort.Slice(ns, func(i, j int) bool {
		iNum, iOK := numericValue(ns[i])
		jNum, jOK := numericValue(ns[j])
		switch {
		case iOK && jOK:
			return iNum < jNum
		case iOK && !jOK:
			return true
		case !iOK && jOK:
			return false
		default:
			return ns[i] < ns[j]
		}
	})
}

func numericValue(s string) (int64, bool) {
	if !names.IsNumeric(s) {
		return 0, false
	}
	var v int64
	for _, r := range s {
		v = v*10 + int64(r-'0')
	}
	return v, true
}
