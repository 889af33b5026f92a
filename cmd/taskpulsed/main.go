package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskpulse/internal/app"
	"taskpulse/internal/jobs"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	// Built-in handlers; bind them to task codes declared in config.
	a.Scheduler().RegisterJob("HEARTBEAT", jobs.Heartbeat(a.Logger()))
	if a.Store() != nil {
		a.Scheduler().RegisterJob("STORE_AUDIT", jobs.StoreAudit(a.Store()))
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, app.StopSIGTERM)
}
