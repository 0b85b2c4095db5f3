// Command revisions inspects and maintains the revisions table.
//
//	revisions -b sqlite -d app.db -migrate list post 7
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/revisions/internal/app"
	"github.com/dmitrijs2005/revisions/internal/config"
	"github.com/dmitrijs2005/revisions/internal/flagx"
	"github.com/dmitrijs2005/revisions/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	cfg := config.LoadConfig()
	logger := logging.NewJSONLogger(os.Stderr, cfg.LogLevel)

	a, err := app.NewApp(cfg, logger, os.Stdout)
	if err != nil {
		logger.Error(ctx, "init failed", "error", err)
		return 2
	}
	defer a.Close()

	if err := a.Run(ctx, flagx.Positional(os.Args[1:], config.ValueFlags)); err != nil {
		logger.Error(ctx, "command failed", "error", err)
		return 1
	}
	return 0
}
