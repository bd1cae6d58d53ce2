package app

import (
	"fmt"
	"strings"

	"actionrunner/internal/config"
	"actionrunner/internal/dispatch"
	"actionrunner/internal/mailbox"
	"actionrunner/internal/trigger"
)

func mapScannerConfig(cfg *config.Config) (trigger.ScannerConfig, error) {
	out := trigger.ScannerConfig{
		Accounts: make(map[string]mailbox.Account, len(cfg.Accounts)),
		Triggers: make([]trigger.Trigger, 0, len(cfg.Actions)),
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
	for name, ac := range cfg.Accounts {
		timeout, err := config.ParseDurationField("accounts."+name+".timeout", ac.Timeout)
		if err != nil {
			return trigger.ScannerConfig{}, err
		}
		out.Accounts[name] = mailbox.Account{
			Server:   strings.TrimSpace(ac.Server),
			User:     ac.User,
			Password: ac.Password,
			Mailbox:  strings.TrimSpace(ac.Mailbox),
			TLS:      ac.TLS,
			Timeout:  timeout,
		}
	}
	for _, a := range cfg.Actions {
		t := trigger.Trigger{
			Name:     a.Name,
			Check:    a.Check,
			Account:  a.Account,
			From:     a.Email.FromRegexp,
			Subjects: append([]string(nil), a.Email.SubjectRegexp...),
			Args:     append([]any(nil), a.Args...),
		}
		if rp := a.RegisterPath; rp != nil {
			t.RegisterPath = &dispatch.Alias{Alias: rp.Alias, Path: rp.Path}
		}
		out.Triggers = append(out.Triggers, t)
	}
	return out, nil
}

func mapTriggerServiceConfig(cfg *config.Config) (trigger.Config, error) {
	sc := cfg.Scheduler
	passTimeout, err := config.ParseDurationOrDefault("scheduler.pass_timeout", sc.PassTimeout, trigger.DefaultPassTimeout)
	if err != nil {
		return trigger.Config{}, err
	}
	poll := strings.TrimSpace(sc.Poll)
	if poll == "" {
		poll = trigger.DefaultPoll
	}
	if _, err := trigger.ParsePoll(poll); err != nil {
		return trigger.Config{}, fmt.Errorf("scheduler.poll: %w", err)
	}
	if _, err := trigger.LoadLocation(sc.Timezone); err != nil {
		return trigger.Config{}, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return trigger.Config{
		Enabled:     sc.Enabled,
		Poll:        poll,
		Timezone:    strings.TrimSpace(sc.Timezone),
		PassTimeout: passTimeout,
	}, nil
}

// validateTriggers compiles actions without touching the running scanner.
func validateTriggers(cfg *config.Config) error {
	sc, err := mapScannerConfig(cfg)
	if err != nil {
		return err
	}
	if err := trigger.Compile(sc.Triggers); err != nil {
		return err
	}
	_, err = mapTriggerServiceConfig(cfg)
	return err
}
