// Package main provides the entry point for the Kestrel runner.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/kestrelhq/kestrel/internal/app"
)

// Version information set by goreleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := &cli.Command{
		Name:    "kestrel",
		Usage:   "Kubernetes event router and enrichment engine",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Sources: cli.EnvVars("KESTREL_CONFIG"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serve(ctx, cmd.String("config"))
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Error("runner failed", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, configPath string) error {
	application, err := app.New(app.Options{
		ConfigPath: configPath,
		BuildInfo:  commit + " " + date,
		Version:    version,
	})
	if err != nil {
		return err
	}

	if err := application.Initialize(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	return application.Shutdown(shutdownCtx)
}
