package config

import (
	"reflect"
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes the bot token or the
// postgres DSN).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) ||
		(strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token)) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Storage (never log DSN)
	oS, nS := oldCfg.Storage, newCfg.Storage
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.DSN) != strings.TrimSpace(nS.DSN) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) ||
		oS.MaxOpenConn != nS.MaxOpenConn {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nS.DSN) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	oSc, nSc := derefScanner(oldCfg.Scanner), derefScanner(newCfg.Scanner)
	if oSc != nSc {
		changed = append(changed, "scanner")
		attrs = append(attrs,
			logx.String("scanner.interval", strings.TrimSpace(nSc.Interval)),
			logx.Int("scanner.workers", nSc.Workers),
			logx.String("scanner.cycle_timeout", strings.TrimSpace(nSc.CycleTimeout)),
		)
	}

	oD, nD := derefDispatch(oldCfg.Dispatch), derefDispatch(newCfg.Dispatch)
	if oD != nD {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.send_timeout", strings.TrimSpace(nD.SendTimeout)),
			logx.Int("dispatch.rate_per_sec", nD.RatePerSec),
		)
	}

	oR, nR := derefRecovery(oldCfg.Recovery), derefRecovery(newCfg.Recovery)
	if oR != nR {
		changed = append(changed, "recovery")
		attrs = append(attrs, logx.Int("recovery.attempts", nR.Attempts))
	}

	oRem, nRem := derefReminders(oldCfg.Reminders), derefReminders(newCfg.Reminders)
	if strings.TrimSpace(oRem.Timezone) != strings.TrimSpace(nRem.Timezone) {
		changed = append(changed, "reminders")
		attrs = append(attrs, logx.String("reminders.timezone", strings.TrimSpace(nRem.Timezone)))
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefScanner(c *ScannerConfig) ScannerConfig {
	if c == nil {
		return ScannerConfig{}
	}
	return *c
}

func derefDispatch(c *DispatchConfig) DispatchConfig {
	if c == nil {
		return DispatchConfig{}
	}
	return *c
}

func derefRecovery(c *RecoveryConfig) RecoveryConfig {
	if c == nil {
		return RecoveryConfig{}
	}
	return *c
}

func derefReminders(c *RemindersConfig) RemindersConfig {
	if c == nil {
		return RemindersConfig{}
	}
	return *c
}
