package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/enginehost/internal/api"
	"github.com/seantiz/enginehost/internal/config"
	"github.com/seantiz/enginehost/internal/crash"
	"github.com/seantiz/enginehost/internal/engine"
	"github.com/seantiz/enginehost/internal/native"
	"github.com/seantiz/enginehost/internal/native/sim"
	"github.com/seantiz/enginehost/internal/store"
)

var errQuitRequested = errors.New("quit requested")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine and the admin server (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return Run(ctx, cfg, logger, RunOptions{})
}

// RunOptions customizes Run.
type RunOptions struct {
	// Setup runs on the main thread after the engine initializes and before
	// the admin server starts.
	Setup func(rt *engine.Runtime) error
}

// newRegistry registers the engine implementations built into the host.
func newRegistry(rep *crash.Reporter) *native.Registry {
	reg := native.NewRegistry()
	sim.Register(reg, sim.Options{Crash: rep})
	return reg
}

// Run hosts the engine until ctx is cancelled or a quit is requested over
// HTTP. It must be called on the goroutine that acts as the main thread:
// it initializes the engine, runs the message loop and shuts the engine
// down there.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, opts RunOptions) error {
	logger.Info("enginehost: starting",
		"version", Version,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"engine", cfg.Engine,
	)

	crashCfg, err := crash.LoadConfig(cfg.CrashConfigPath)
	if err != nil {
		return fmt.Errorf("load crash config: %w", err)
	}
	reporter := crash.NewReporter(crashCfg)

	reg := newRegistry(reporter)
	eng, err := reg.Resolve(cfg.Engine)
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	pump := newPumpScheduler()
	rt, err := engine.New(engine.Options{
		Native:                eng,
		Logger:                logger,
		Journal:               db,
		Crash:                 reporter,
		BrowserProcessHandler: &hostHandler{logger: logger, pump: pump},
		DrainTimeout:          cfg.DrainTimeout,
		DrainPollInterval:     cfg.DrainPollInterval,
	})
	if err != nil {
		return err
	}
	if err := engine.Install(rt); err != nil {
		logger.Warn("engine runtime already installed", "error", err)
	}

	if err := rt.Initialize(cfg.Settings); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	// Every return past this point goes through Shutdown on this goroutine.
	defer func() {
		if err := rt.Shutdown(); err != nil {
			logger.Error("engine shutdown", "error", err)
		}
	}()

	if opts.Setup != nil {
		if err := opts.Setup(rt); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}

	srv := api.NewServer(cfg.ListenAddr, db, reg, rt, logger, func() { cancel(errQuitRequested) })
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Serve(ctx)
	}()

	if cfg.Settings.ExternalMessagePump {
		pump.run(ctx, rt)
	} else {
		go func() {
			<-ctx.Done()
			rt.QuitMessageLoop()
		}()
		if err := rt.RunMessageLoop(); err != nil {
			cancel(err)
		}
	}
	cancel(nil)
	logger.Info("enginehost: stopping", "cause", context.Cause(ctx))

	// Shut the engine down before waiting on the server so that open event
	// streams end.
	if err := rt.Shutdown(); err != nil {
		logger.Error("engine shutdown", "error", err)
	}
	return <-srvErr
}
