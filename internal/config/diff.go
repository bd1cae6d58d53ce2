package config

import (
	"maps"
	"reflect"
	"slices"
	"strings"

	"actionrunner/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured fields for logging. Passwords are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	or, nr := oldCfg.Registry, newCfg.Registry
	if or.Debug != nr.Debug ||
		strings.TrimSpace(or.DefaultRoot) != strings.TrimSpace(nr.DefaultRoot) ||
		or.HistorySize != nr.HistorySize ||
		!maps.Equal(or.Paths, nr.Paths) {
		changed = append(changed, "registry")
		attrs = append(attrs,
			logx.Bool("registry.debug", nr.Debug),
			logx.String("registry.default_root", strings.TrimSpace(nr.DefaultRoot)),
			logx.Int("registry.history_size", nr.HistorySize),
			logx.Strings("registry.aliases", slices.Sorted(maps.Keys(nr.Paths))),
		)
	}

	ost, nst := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if ost != nst {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.StorageDriver()),
			logx.String("storage.path", strings.TrimSpace(nst.Path)),
			logx.Bool("storage.password_set", nst.Password != ""),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.poll", strings.TrimSpace(newCfg.Scheduler.Poll)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !maps.Equal(oldCfg.Accounts, newCfg.Accounts) {
		changed = append(changed, "accounts")
		attrs = append(attrs, logx.Strings("accounts", slices.Sorted(maps.Keys(newCfg.Accounts))))
	}

	if !reflect.DeepEqual(oldCfg.Actions, newCfg.Actions) {
		changed = append(changed, "actions")
		names := make([]string, 0, len(newCfg.Actions))
		for _, a := range newCfg.Actions {
			names = append(names, a.Name)
		}
		attrs = append(attrs, logx.Int("actions.count", len(names)), logx.Strings("actions.names", names))
	}

	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
