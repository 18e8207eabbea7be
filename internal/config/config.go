package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/seantiz/enginehost/internal/model"
)

const (
	defaultListenAddr        = ":8080"
	defaultDBPath            = "enginehost.db"
	defaultEngine            = "sim"
	defaultDrainPollInterval = 25 * time.Millisecond
	defaultCrashConfigName   = "crash_reporter.cfg"

	envPrefix = "ENGINEHOST"
)

// Viper keys. The environment variable for a key is ENGINEHOST_ followed by
// the upper-cased key with dots replaced by underscores.
const (
	keyListenAddr        = "listen_addr"
	keyDBPath            = "db_path"
	keyLogLevel          = "log_level"
	keyEngine            = "engine"
	keyDrainTimeout      = "drain_timeout"
	keyDrainPollInterval = "drain_poll_interval"
	keyCrashConfig       = "crash_config"

	keyCachePath           = "settings.cache_path"
	keyRootCachePath       = "settings.root_cache_path"
	keyLogFile             = "settings.log_file"
	keyLogSeverity         = "settings.log_severity"
	keyMultiThreadedLoop   = "settings.multi_threaded_message_loop"
	keyExternalPump        = "settings.external_message_pump"
	keyLocale              = "settings.locale"
	keyRemoteDebuggingPort = "settings.remote_debugging_port"
	keySubprocessPath      = "settings.browser_subprocess_path"
	keyWindowless          = "settings.windowless_rendering"
	keyBackgroundColor     = "settings.background_color"
)

// Config holds host configuration.
type Config struct {
	ListenAddr        string
	DBPath            string
	LogLevel          slog.Level
	Engine            string
	DrainTimeout      time.Duration
	DrainPollInterval time.Duration
	CrashConfigPath   string
	Settings          Settings
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	return load(newViper())
}

// LoadFile reads configuration from the given file, with environment
// variables taking precedence over file values.
func LoadFile(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultSettings()

	v.SetDefault(keyListenAddr, defaultListenAddr)
	v.SetDefault(keyDBPath, defaultDBPath)
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyEngine, defaultEngine)
	v.SetDefault(keyDrainTimeout, time.Duration(0))
	v.SetDefault(keyDrainPollInterval, defaultDrainPollInterval)
	v.SetDefault(keyCrashConfig, defaultCrashConfigPath())

	v.SetDefault(keyCachePath, defaults.CachePath)
	v.SetDefault(keyRootCachePath, defaults.RootCachePath)
	v.SetDefault(keyLogFile, defaults.LogFile)
	v.SetDefault(keyLogSeverity, defaults.LogSeverity.String())
	v.SetDefault(keyMultiThreadedLoop, defaults.MultiThreadedMessageLoop)
	v.SetDefault(keyExternalPump, defaults.ExternalMessagePump)
	v.SetDefault(keyLocale, defaults.Locale)
	v.SetDefault(keyRemoteDebuggingPort, defaults.RemoteDebuggingPort)
	v.SetDefault(keySubprocessPath, defaults.BrowserSubprocessPath)
	v.SetDefault(keyWindowless, defaults.WindowlessRendering)
	v.SetDefault(keyBackgroundColor, fmt.Sprintf("%08X", defaults.BackgroundColor))
}

func load(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenAddr:        v.GetString(keyListenAddr),
		DBPath:            v.GetString(keyDBPath),
		LogLevel:          parseLogLevel(v.GetString(keyLogLevel)),
		Engine:            v.GetString(keyEngine),
		DrainTimeout:      v.GetDuration(keyDrainTimeout),
		DrainPollInterval: v.GetDuration(keyDrainPollInterval),
		CrashConfigPath:   v.GetString(keyCrashConfig),
	}
	if cfg.DrainPollInterval <= 0 {
		cfg.DrainPollInterval = defaultDrainPollInterval
	}

	severity, err := model.ParseLogSeverity(v.GetString(keyLogSeverity))
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", keyLogSeverity, err)
	}
	color, err := ParseColor(v.GetString(keyBackgroundColor))
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", keyBackgroundColor, err)
	}

	cfg.Settings = Settings{
		CachePath:                v.GetString(keyCachePath),
		RootCachePath:            v.GetString(keyRootCachePath),
		LogFile:                  v.GetString(keyLogFile),
		LogSeverity:              severity,
		MultiThreadedMessageLoop: v.GetBool(keyMultiThreadedLoop),
		ExternalMessagePump:      v.GetBool(keyExternalPump),
		Locale:                   v.GetString(keyLocale),
		RemoteDebuggingPort:      v.GetInt(keyRemoteDebuggingPort),
		BrowserSubprocessPath:    v.GetString(keySubprocessPath),
		WindowlessRendering:      v.GetBool(keyWindowless),
		BackgroundColor:          color,
	}

	return cfg, nil
}

// defaultCrashConfigPath places crash_reporter.cfg next to the executable.
func defaultCrashConfigPath() string {
	exe, err := os.Executable()
	if err != nil {
		return defaultCrashConfigName
	}
	return filepath.Join(filepath.Dir(exe), defaultCrashConfigName)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
