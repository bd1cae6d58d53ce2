package app

import (
	"context"

	"actionrunner/internal/action"
	"actionrunner/internal/runtime/supervisor"
)

// Records returns up to n recent execution records, newest first. With a
// record store configured they come from the store, so records of earlier
// processes are included; otherwise from this process's journal.
func (a *App) Records(ctx context.Context, n int) ([]action.Record, error) {
	if a.store == nil {
		return a.journal.Records(n), nil
	}
	return a.store.RecentRecords(ctx, n)
}

type healthReport struct {
	Supervisor   supervisor.Snapshot `json:"supervisor"`
	Triggers     int                 `json:"triggers"`
	Passes       int                 `json:"trigger_passes"`
	HandlerTypes []string            `json:"handler_types"`
	Debug        bool                `json:"debug"`
}

func (a *App) health() any {
	h := healthReport{
		Triggers:     a.scanner.Len(),
		Passes:       a.trig.Passes(),
		HandlerTypes: a.reg.Types(),
		Debug:        a.reg.Debug(),
	}
	if a.sup != nil {
		h.Supervisor = a.sup.Snapshot()
	}
	return h
}
