package config

import (
	"reflect"
	"sort"
	"strings"

	"github.com/danitrap/ambrogio-agent-sub000/pkg/logx"
)

// SummarizeChange returns the list of changed sections and structured
// attrs safe for logging (never secrets like the bot token).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	// Telegram (never log token)
	if (strings.TrimSpace(oldCfg.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Telegram.Token) != "") ||
		oldCfg.Telegram.OwnerChatID != newCfg.Telegram.OwnerChatID ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int64("telegram.owner_chat_id", newCfg.Telegram.OwnerChatID),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.tick_interval", strings.TrimSpace(newCfg.Scheduler.TickInterval)),
			logx.String("scheduler.exec_timeout", strings.TrimSpace(newCfg.Scheduler.ExecTimeout)),
			logx.Int("scheduler.batch_limit", newCfg.Scheduler.BatchLimit),
		)
	}

	if !reflect.DeepEqual(oldCfg.Executor, newCfg.Executor) {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.String("executor.command", newCfg.Executor.Command),
			logx.Int("executor.args", len(newCfg.Executor.Args)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Control, newCfg.Control) {
		changed = append(changed, "control")
		attrs = append(attrs,
			logx.String("control.socket_path", newCfg.Control.SocketPath),
			logx.Bool("control.media_root_set", strings.TrimSpace(newCfg.Control.MediaRoot) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
