package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"actionrunner/pkg/logx"
)

// notifySystemd reports a state to systemd. Outside a Type=notify unit it is a
// no-op.
func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify", logx.String("state", state))
	}
}

// watchdogLoop pings the systemd watchdog at half its interval until ctx is
// done. It returns immediately when WatchdogSec is not set.
func watchdogLoop(ctx context.Context, log logx.Logger) error {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return err
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			notifySystemd(log, daemon.SdNotifyWatchdog)
		}
	}
}
