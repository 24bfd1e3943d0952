package config

import (
	"fmt"
	"strings"
	"time"

	"slotwatch/internal/center"
)

// Defaults for the upstream scheduling API. Overridable for tests and for
// pointing the watcher at a mirror.
const (
	DefaultSourceURL   = "https://ttp.cbp.dhs.gov/schedulerapi"
	DefaultScheduleURL = "https://ttp.cbp.dhs.gov/schedulerui/schedule-interview/location?lang=en&vo=true&returnUrl=ttp-external&service=nh"
)

type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Watch       WatchConfig       `json:"watch"`
	Notify      NotifyConfig      `json:"notify,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`

	// Centers is the static catalog of pollable locations.
	Centers []center.Center `json:"centers"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console,omitempty"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	// Driver: "sqlite" (default), "file" or "memory".
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type WatchConfig struct {
	// PollInterval is a Go duration string (default "15s").
	PollInterval string `json:"poll_interval,omitempty"`
	// RetryInterval applies after tracker lock contention (default "1s").
	RetryInterval string `json:"retry_interval,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`

	SourceURL string `json:"source_url,omitempty"`
	// SlotLimit caps how many soonest slots one query asks for (default 5).
	SlotLimit int `json:"slot_limit,omitempty"`
	// RequestTimeout bounds one slot query round-trip (default "15s").
	RequestTimeout string `json:"request_timeout,omitempty"`

	ScheduleURL string `json:"schedule_url,omitempty"`

	Window WindowConfig `json:"window,omitempty"`
}

// WindowConfig is the slot eligibility date range. Dates are "2006-01-02";
// an empty side is unbounded.
type WindowConfig struct {
	NotBefore string `json:"not_before,omitempty"`
	NotAfter  string `json:"not_after,omitempty"`
}

type NotifyConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type MaintenanceConfig struct {
	// RefreshSpec is a cron spec for the periodic full tracker refresh.
	// Empty means "@daily"; "off" disables it.
	RefreshSpec string `json:"refresh_spec,omitempty"`
}

const dateLayout = "2006-01-02"

// ParseDate parses a window bound; empty means unbounded (zero time).
func ParseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: invalid date %q (want YYYY-MM-DD)", field, raw)
	}
	return t, nil
}

// ParseDuration parses an optional Go duration string with a default.
func ParseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}
