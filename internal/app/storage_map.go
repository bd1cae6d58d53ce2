package app

import (
	"fmt"
	"strings"
	"time"

	"actionrunner/internal/config"
	"actionrunner/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)

	switch driver := cfg.StorageDriver(); driver {
	case "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, MaxRecords: sc.MaxRecords}, true, nil
	case "redis":
		if strings.TrimSpace(sc.Addr) == "" {
			return storage.Config{}, false, fmt.Errorf("storage.addr is required when storage.driver=redis")
		}
		return storage.Config{
			Driver:     driver,
			Addr:       strings.TrimSpace(sc.Addr),
			Password:   sc.Password,
			DB:         sc.DB,
			Key:        strings.TrimSpace(sc.Key),
			MaxRecords: sc.MaxRecords,
		}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}
