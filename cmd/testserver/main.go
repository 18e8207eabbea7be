// testserver runs the host on the sim engine with demo disposables for E2E
// testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/seantiz/enginehost/internal/cmd"
	"github.com/seantiz/enginehost/internal/config"
	"github.com/seantiz/enginehost/internal/engine"
)

func init() {
	runtime.LockOSThread()
}

// openBrowsers registers n browsers that finish closing closeDelay after
// they are asked to, the way a real browser window tears down.
func openBrowsers(rt *engine.Runtime, n int, closeDelay time.Duration) error {
	for i := range n {
		var h *engine.Handle
		h = engine.NewDeferredHandle(fmt.Sprintf("browser-%d", i+1), func() error {
			time.AfterFunc(closeDelay, func() { rt.Disposables().Unregister(h) })
			return nil
		})
		if err := rt.Disposables().Register(h); err != nil {
			return err
		}
	}
	return nil
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func main() {
	if code := cmd.ExecuteProcess(os.Args); code >= 0 {
		os.Exit(code)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if os.Getenv("ENGINEHOST_DB_PATH") == "" {
		cfg.DBPath = ":memory:"
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	browsers := envInt("TESTSERVER_BROWSERS", 2)
	closeDelay := time.Duration(envInt("TESTSERVER_CLOSE_DELAY_MS", 100)) * time.Millisecond

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = cmd.Run(ctx, cfg, logger, cmd.RunOptions{
		Setup: func(rt *engine.Runtime) error {
			logger.Info("testserver: opening browsers", "count", browsers, "close_delay", closeDelay.String())
			return openBrowsers(rt, browsers, closeDelay)
		},
	})
	if err != nil {
		log.Fatalf("testserver: %v", err)
	}
}
