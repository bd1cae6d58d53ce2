package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Registry  RegistryConfig  `json:"registry"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	HTTP      HTTPConfig      `json:"http"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Accounts are mailbox credentials referenced by actions[].account.
	Accounts map[string]AccountConfig `json:"accounts,omitempty"`
	Actions  []ActionConfig           `json:"actions,omitempty"`
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

// RegistryConfig controls action resolution.
//
// DefaultRoot is a directory of definition files. When empty the embedded
// built-in root is used. Paths maps alias -> directory and is registered at
// startup and on every reload.
type RegistryConfig struct {
	Debug       bool              `json:"debug"`
	DefaultRoot string            `json:"default_root,omitempty"`
	HistorySize int               `json:"history_size,omitempty"`
	Paths       map[string]string `json:"paths,omitempty"`
}

// StorageConfig controls the optional record store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./actionrunner.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// redis
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`

	MaxRecords int `json:"max_records,omitempty"`
}

// HTTPConfig controls the direct-request HTTP channel (daemon mode only).
//
// Prefer binding to localhost: there is no authentication.
type HTTPConfig struct {
	Enabled      bool    `json:"enabled"`
	Addr         string  `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	RatePerSec   float64 `json:"rate_per_sec,omitempty"`
	Burst        int     `json:"burst,omitempty"`
	ReadTimeout  string  `json:"read_timeout,omitempty"`
	WriteTimeout string  `json:"write_timeout,omitempty"`
}

// SchedulerConfig controls the daemon poll loop that sweeps mailboxes.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Poll is a cron spec or "@every <duration>".
	Poll        string `json:"poll,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	PassTimeout string `json:"pass_timeout,omitempty"`
}

type AccountConfig struct {
	Server   string `json:"server"`
	User     string `json:"user"`
	Password string `json:"password"` // do not log
	Mailbox  string `json:"mailbox,omitempty"`
	TLS      bool   `json:"tls"`
	Timeout  string `json:"timeout,omitempty"`
}

// ActionConfig is one mail trigger.
type ActionConfig struct {
	Name         string       `json:"name"`
	Check        string       `json:"check"`
	Account      string       `json:"account"`
	Email        EmailConfig  `json:"email"`
	RegisterPath *AliasConfig `json:"registerPath,omitempty"`
	Args         []any        `json:"args,omitempty"`
}

type AliasConfig struct {
	Alias string `json:"alias"`
	Path  string `json:"path"`
}

type EmailConfig struct {
	FromRegexp    string       `json:"fromRegexp"`
	SubjectRegexp StringOrList `json:"subjectRegexp"`
}

// StringOrList decodes either "x" or ["x", "y"].
type StringOrList []string

func (s *StringOrList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*s = StringOrList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*s = many
	return nil
}

// Defaults returns the configuration used when no config file exists.
func Defaults() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Registry:  RegistryConfig{HistorySize: 200},
		HTTP:      HTTPConfig{Addr: "127.0.0.1:8080", RatePerSec: 10, Burst: 20},
		Scheduler: SchedulerConfig{Enabled: true, Poll: "@every 1m"},
	}
}

// StorageDriver returns the normalized driver name, "none" when unset.
func (c *Config) StorageDriver() string {
	if c == nil || c.Storage == nil {
		return "none"
	}
	d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if d == "" {
		return "none"
	}
	return d
}
