package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"detectserver/internal/app"
	"detectserver/internal/config"
	"detectserver/internal/logger"
)

func main() {
	cliApp := &cli.App{
		Name:  "detect-server",
		Usage: "serve the object detection demo page and API",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "load environment from `FILE` (default .env when present)",
			},
		},
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.StringSlice("env")...)
	if err != nil {
		return err
	}

	logs, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}

	application, err := app.NewApp(cfg, logs)
	if err != nil {
		logs.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := application.Run(ctx)
	if runErr == nil || runErr == context.Canceled {
		runErr = nil
	}
	return multierr.Combine(runErr, application.Close(), logs.Close())
}
