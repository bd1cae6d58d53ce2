package app

import (
	"strings"
	"time"

	"actionrunner/internal/config"
	"actionrunner/internal/transport/web"
)

func mapWebConfig(cfg *config.Config) (web.Config, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second)
	if err != nil {
		return web.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 30*time.Second)
	if err != nil {
		return web.Config{}, err
	}
	addr := strings.TrimSpace(hc.Addr)
	if addr == "" {
		addr = web.DefaultAddr
	}
	return web.Config{
		Enabled:      hc.Enabled,
		Addr:         addr,
		RatePerSec:   hc.RatePerSec,
		Burst:        hc.Burst,
		ReadTimeout:  read,
		WriteTimeout: write,
	}, nil
}
