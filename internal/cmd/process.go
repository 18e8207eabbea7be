package cmd

import (
	"log/slog"
	"os"

	"github.com/seantiz/enginehost/internal/config"
	"github.com/seantiz/enginehost/internal/crash"
	"github.com/seantiz/enginehost/internal/engine"
)

// ExecuteProcess runs a secondary process role selected by --type in args.
// It returns -1 for the browser process, which should continue into the
// command tree.
func ExecuteProcess(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		// Secondary roles never read host settings; fall back to defaults.
		cfg.Engine = "auto"
	}
	crashCfg, err := crash.LoadConfig(cfg.CrashConfigPath)
	if err != nil {
		crashCfg = crash.DefaultConfig()
	}
	reg := newRegistry(crash.NewReporter(crashCfg))
	eng, err := reg.Resolve(cfg.Engine)
	if err != nil {
		return -1
	}
	rt, err := engine.New(engine.Options{
		Native: eng,
		Logger: config.NewLogger(os.Stderr, slog.LevelInfo),
	})
	if err != nil {
		return -1
	}
	return rt.ExecuteProcess(args)
}
