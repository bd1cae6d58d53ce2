package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// DefaultMaxRecords caps the sqlite and redis drivers.
const DefaultMaxRecords = 10000

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver string
	// Path is the file prefix (file) or database file (sqlite).
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Redis connection. Addr may also be a redis:// URL.
	Addr     string
	Password string
	DB       int
	Key      string

	// MaxRecords caps stored records (sqlite, redis). 0 means DefaultMaxRecords.
	MaxRecords int
}

func (c Config) maxRecords() int {
	if c.MaxRecords <= 0 {
		return DefaultMaxRecords
	}
	return c.MaxRecords
}
