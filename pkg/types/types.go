package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// RenderResult is the outcome of a single page render.
// Complete=false means the completion marker was not observed within its
// timeout; the HTML is still usable but must only be cached short-term.
type RenderResult struct {
	HTML       []byte
	Complete   bool
	FinalURL   string
	ChromeID   string
	RenderTime time.Duration
}

// Source identifies which tier of the resolve pipeline produced a result.
type Source string

const (
	SourceHot        Source = "hot"        // HotCache hit
	SourceDurable    Source = "durable"    // DurableStore hit
	SourceConcurrent Source = "concurrent" // published by a concurrent render while waiting
	SourceRender     Source = "render"     // rendered by this invocation
	SourceLive       Source = "live"       // live render, caches untouched
)

// Error type constants for events and metrics labels
const (
	ErrorTypeValidation       = "validation"
	ErrorTypeRecentFailure    = "recent_failure"
	ErrorTypeRenderTimeout    = "render_timeout"
	ErrorTypeNavigationFailed = "navigation_failed"
	ErrorTypeExtractionFailed = "extraction_failed"
	ErrorTypePoolUnavailable  = "pool_unavailable"
	ErrorTypeStoreUnavailable = "store_unavailable"
	ErrorTypeInternal         = "internal"
)

// Compression algorithm constants for HotCache page bodies
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

// CompressionMinSize is the minimum body size in bytes for compression to
// be applied. Smaller bodies are stored as-is.
const CompressionMinSize = 1024

// Duration wraps time.Duration with extended YAML/JSON parsing support for
// days and weeks ("30d", "2w") on top of the standard time.ParseDuration
// formats.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := parseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON accepts both numbers (nanoseconds) and duration strings.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var ns int64
	if err := json.Unmarshal(data, &ns); err == nil {
		*d = Duration(ns)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or number, got %s", string(data))
	}

	dur, err := parseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ToDuration converts to the standard library type.
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

var extendedDurationRe = regexp.MustCompile(`^(-?)(\d+(?:\.\d+)?)(d|w)$`)

// parseDuration tries the standard formats first, then the extended
// day/week suffixes.
func parseDuration(s string) (time.Duration, error) {
	if dur, err := time.ParseDuration(s); err == nil {
		return dur, nil
	}

	matches := extendedDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("expected a duration like '30s', '5m', '30d' or '2w'")
	}

	value, err := strconv.ParseFloat(matches[2], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %w", err)
	}
	if matches[1] == "-" {
		value = -value
	}

	switch matches[3] {
	case "d":
		return time.Duration(value * float64(24*time.Hour)), nil
	case "w":
		return time.Duration(value * float64(7*24*time.Hour)), nil
	}
	return 0, fmt.Errorf("unsupported suffix %q", matches[3])
}
