package storage

import (
	"context"
	"errors"
	"strings"

	"actionrunner/internal/action"
	"actionrunner/pkg/logx"
)

// Store persists execution records. It satisfies action.RecordSink.
type Store interface {
	AppendRecord(ctx context.Context, r action.Record) error
	// RecentRecords returns up to n records, newest first.
	RecentRecords(ctx context.Context, n int) ([]action.Record, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
