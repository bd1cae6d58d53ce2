// Command actionrunner resolves and runs actions.
//
//	actionrunner [flags] <logicalPath|__email__> [args...]
//	actionrunner -query 'action=Utils/Echo&hello'
//	actionrunner -open 'action://Utils/Echo?hello'
//	actionrunner -records 20
//	actionrunner -daemon
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"actionrunner/internal/app"
)

func main() {
	var (
		cfgPath string
		debug   bool
		query   string
		open    string
		records int
		daemon  bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json/yaml (optional)")
	flag.BoolVar(&debug, "debug", false, "record executions and notify observers")
	flag.StringVar(&query, "query", "", "run a direct request, e.g. 'action=Utils/Echo&hello'")
	flag.StringVar(&open, "open", "", "stream an action:// URL to stdout")
	flag.IntVar(&records, "records", -1, "print the N most recent stored execution records as JSON (0 = all)")
	flag.BoolVar(&daemon, "daemon", false, "run the trigger poll loop and HTTP channel until interrupted")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath, debug, query, open, records, daemon); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, debug bool, query, open string, records int, daemon bool) error {
	a, err := app.New(app.Options{ConfigPath: cfgPath, Debug: debug})
	if err != nil {
		return err
	}

	switch {
	case daemon:
		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return err
		}
		reason := app.StopSignal
		select {
		case <-ctx.Done():
		case <-a.Done():
			if a.Err() != nil {
				reason = app.StopFatalError
			}
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, reason)
		if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case records >= 0:
		defer a.Close()
		recs, err := a.Records(ctx, records)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	case open != "":
		defer a.Close()
		r, err := a.Open(ctx, open)
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = io.Copy(os.Stdout, r)
		return err
	case query != "":
		defer a.Close()
		return a.RunQuery(ctx, query)
	default:
		defer a.Close()
		return a.RunCommand(ctx, append([]string{os.Args[0]}, flag.Args()...))
	}
}
