package config

import (
	"errors"
	"fmt"
	"strings"
)

var knownDrivers = map[string]bool{
	"none": true, "file": true, "sqlite": true, "sqlite3": true, "redis": true,
}

// Validate performs structural checks that need no other package: durations,
// storage driver, account references and alias definitions. Cron and regexp
// compilation of actions happens where triggers are built.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Registry.HistorySize < 0 {
		add(errors.New("registry.history_size must be >= 0"))
	}
	for alias, root := range cfg.Registry.Paths {
		if strings.TrimSpace(alias) == "" || strings.TrimSpace(root) == "" {
			add(fmt.Errorf("registry.paths[%q]: alias and path are required", alias))
		}
	}

	if d := cfg.StorageDriver(); !knownDrivers[d] {
		add(fmt.Errorf("storage.driver: unknown driver %q", d))
	}
	if cfg.Storage != nil {
		_, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		add(err)
		if cfg.Storage.MaxRecords < 0 {
			add(errors.New("storage.max_records must be >= 0"))
		}
	}

	if cfg.HTTP.RatePerSec < 0 || cfg.HTTP.Burst < 0 {
		add(errors.New("http.rate_per_sec and http.burst must be >= 0"))
	}
	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.Addr) == "" {
		add(errors.New("http.addr is required when http is enabled"))
	}
	_, err := ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	add(err)
	_, err = ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	add(err)
	_, err = ParseDurationField("scheduler.pass_timeout", cfg.Scheduler.PassTimeout)
	add(err)

	for name, acc := range cfg.Accounts {
		if strings.TrimSpace(acc.Server) == "" {
			add(fmt.Errorf("accounts.%s.server is required", name))
		}
		_, err := ParseDurationField("accounts."+name+".timeout", acc.Timeout)
		add(err)
	}

	seen := make(map[string]bool, len(cfg.Actions))
	for i, a := range cfg.Actions {
		prefix := fmt.Sprintf("actions[%d] (%s)", i, a.Name)
		if seen[a.Name] {
			add(fmt.Errorf("%s: duplicate name", prefix))
		}
		seen[a.Name] = true
		if a.Account != "" {
			if _, ok := cfg.Accounts[a.Account]; !ok {
				add(fmt.Errorf("%s: unknown account %q", prefix, a.Account))
			}
		}
		if rp := a.RegisterPath; rp != nil && (strings.TrimSpace(rp.Alias) == "" || strings.TrimSpace(rp.Path) == "") {
			add(fmt.Errorf("%s: registerPath needs alias and path", prefix))
		}
	}

	return errors.Join(errs...)
}
