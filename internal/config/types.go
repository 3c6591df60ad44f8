package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Executor  ExecutorConfig  `json:"executor"`
	Control   ControlConfig   `json:"control"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	OwnerChatID int64  `json:"owner_chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy handler).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the due-job poll loop and result delivery.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	TickInterval string `json:"tick_interval,omitempty"` // default "15s"
	ExecTimeout  string `json:"exec_timeout,omitempty"`  // default "5m"
	BatchLimit   int    `json:"batch_limit,omitempty"`   // default 20

	DeliveryRatePerSec int `json:"delivery_rate_per_sec,omitempty"` // default 1
}

// ExecutorConfig names the agent subprocess that runs job prompts.
type ExecutorConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	WorkDir string   `json:"work_dir,omitempty"`
}

// ControlConfig controls the Unix-socket RPC surface.
type ControlConfig struct {
	SocketPath string `json:"socket_path"`

	MediaRoot        string `json:"media_root,omitempty"`
	MaxPhotoBytes    int64  `json:"max_photo_bytes,omitempty"`
	MaxAudioBytes    int64  `json:"max_audio_bytes,omitempty"`
	MaxDocumentBytes int64  `json:"max_document_bytes,omitempty"`
	MaxLineBytes     int    `json:"max_line_bytes,omitempty"`
}

// Validate checks required fields and duration syntax. It runs both on
// initial load and before a watched reload is committed.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if c.Telegram.OwnerChatID == 0 {
		errs = append(errs, errors.New("telegram.owner_chat_id is required"))
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if strings.TrimSpace(c.Control.SocketPath) == "" {
		errs = append(errs, errors.New("control.socket_path is required"))
	}
	if strings.TrimSpace(c.Executor.Command) == "" {
		errs = append(errs, errors.New("executor.command is required"))
	}

	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"scheduler.tick_interval", c.Scheduler.TickInterval},
		{"scheduler.exec_timeout", c.Scheduler.ExecTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Scheduler.BatchLimit < 0 {
		errs = append(errs, fmt.Errorf("scheduler.batch_limit must be >= 0, got %d", c.Scheduler.BatchLimit))
	}
	if c.Scheduler.DeliveryRatePerSec < 0 {
		errs = append(errs, fmt.Errorf("scheduler.delivery_rate_per_sec must be >= 0, got %d", c.Scheduler.DeliveryRatePerSec))
	}

	return errors.Join(errs...)
}
