// Package registry loads, validates, defaults, and enumerates per-calendar
// Configuration Records from the configuration directory.
package registry

import (
	"encoding/json"
	"fmt"
)

// ImageType is the output encoding requested for a configuration.
type ImageType string

const (
	ImagePNG ImageType = "png"
	ImageJPG ImageType = "jpg"
)

// ICSSource describes one calendar feed to fetch and merge.
type ICSSource struct {
	URL                string `json:"url" validate:"required,url"`
	SourceName         string `json:"sourceName,omitempty"`
	RejectUnauthorized *bool  `json:"rejectUnauthorized,omitempty"`
}

// ICSConfig accepts either a bare URL string or an ordered list of ICSSource
// objects in the raw JSON, normalizing both into a slice.
type ICSConfig struct {
	Sources []ICSSource
}

func (c *ICSConfig) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		c.Sources = []ICSSource{{URL: asString}}
		return nil
	}

	var asList []ICSSource
	if err := json.Unmarshal(data, &asList); err != nil {
		return fmt.Errorf("icsUrl must be a URL string or a list of sources: %w", err)
	}
	c.Sources = asList
	return nil
}

func (c ICSConfig) MarshalJSON() ([]byte, error) {
	if len(c.Sources) == 1 && c.Sources[0].SourceName == "" && c.Sources[0].RejectUnauthorized == nil {
		return json.Marshal(c.Sources[0].URL)
	}
	return json.Marshal(c.Sources)
}

// IsSet reports whether any calendar feed was configured.
func (c ICSConfig) IsSet() bool { return len(c.Sources) > 0 }

// ExtraDataSource describes one auxiliary JSON endpoint. CacheTTL is a
// pointer for the same reason ICSSource.RejectUnauthorized is: an explicit
// "cacheTtl": 0 (always refetch) must stay distinguishable from an absent
// field that falls back to the configuration-level TTL.
type ExtraDataSource struct {
	URL      string            `json:"url" validate:"required,url"`
	CacheTTL *int              `json:"cacheTtl,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// ExtraDataConfig accepts either a bare URL string or an ordered list of
// ExtraDataSource objects, normalizing both into a slice.
type ExtraDataConfig struct {
	Sources []ExtraDataSource
}

func (c *ExtraDataConfig) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		c.Sources = []ExtraDataSource{{URL: asString}}
		return nil
	}

	var asList []ExtraDataSource
	if err := json.Unmarshal(data, &asList); err != nil {
		return fmt.Errorf("extraDataUrl must be a URL string or a list of sources: %w", err)
	}
	c.Sources = asList
	return nil
}

func (c ExtraDataConfig) MarshalJSON() ([]byte, error) {
	if len(c.Sources) == 1 && c.Sources[0].CacheTTL == nil && c.Sources[0].Headers == nil {
		return json.Marshal(c.Sources[0].URL)
	}
	return json.Marshal(c.Sources)
}

// IsSet reports whether any auxiliary source was configured.
func (c ExtraDataConfig) IsSet() bool { return len(c.Sources) > 0 }

// Config is a single Configuration Record, as loaded from
// "<config-dir>/<name>.json" and defaulted.
type Config struct {
	Template              string            `json:"template" validate:"required"`
	ICSURL                ICSConfig         `json:"icsUrl,omitempty"`
	Width                 int               `json:"width" validate:"min=1"`
	Height                int               `json:"height" validate:"min=1"`
	ImageType             ImageType         `json:"imageType" validate:"oneof=png jpg"`
	Grayscale             bool              `json:"grayscale"`
	BitDepth              int               `json:"bitDepth" validate:"min=1,max=32"`
	Rotate                int               `json:"rotate" validate:"oneof=0 90 180 270"`
	Locale                string            `json:"locale"`
	Timezone              string            `json:"timezone,omitempty"`
	ExpandRecurringFrom   *int              `json:"expandRecurringFrom,omitempty"`
	ExpandRecurringTo     *int              `json:"expandRecurringTo,omitempty"`
	PreGenerateInterval   string            `json:"preGenerateInterval,omitempty"`
	ExtraDataURL          ExtraDataConfig   `json:"extraDataUrl,omitempty"`
	ExtraDataCacheTTL     *int              `json:"extraDataCacheTtl,omitempty"`
	ExtraDataHeaders      map[string]string `json:"extraDataHeaders,omitempty"`
	Adjustments           json.RawMessage   `json:"adjustments,omitempty"`
}

// HasSchedule reports whether the configuration carries a pre-generate cron
// expression, the condition the Scheduler and HTTP Front Door both key on.
func (c *Config) HasSchedule() bool { return c.PreGenerateInterval != "" }

// applyDefaults fills in every field left at its zero value with its
// documented default. Called before validation, so validation reflects what
// the service will actually run with rather than the zero values an editor
// left unset.
func (c *Config) applyDefaults() {
	if c.Width == 0 {
		c.Width = 800
	}
	if c.Height == 0 {
		c.Height = 600
	}
	if c.ImageType == "" {
		c.ImageType = ImagePNG
	}
	if c.BitDepth == 0 {
		c.BitDepth = 8
	}
	if c.Locale == "" {
		c.Locale = "en-US"
	}
	// Pointer fields default only when absent: an explicit 0 is a
	// legitimate value for each of these (expand nothing before/after
	// today, always refetch) and must survive defaulting.
	if c.ExpandRecurringFrom == nil {
		c.ExpandRecurringFrom = intPtr(-31)
	}
	if c.ExpandRecurringTo == nil {
		c.ExpandRecurringTo = intPtr(31)
	}
	if c.ExtraDataCacheTTL == nil {
		c.ExtraDataCacheTTL = intPtr(300)
	}
}

func intPtr(v int) *int { return &v }
