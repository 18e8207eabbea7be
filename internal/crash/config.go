// Package crash loads crash_reporter.cfg and holds the runtime crash keys
// attached to crash reports.
package crash

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
)

// Section names in crash_reporter.cfg.
const (
	sectionConfig    = "Config"
	sectionCrashKeys = "CrashKeys"
)

// KeySize is the byte budget class of a crash key.
type KeySize int

const (
	KeySmall KeySize = iota
	KeyMedium
	KeyLarge
)

// Bytes returns the maximum value length stored for the class.
func (k KeySize) Bytes() int {
	switch k {
	case KeySmall:
		return 64
	case KeyMedium:
		return 256
	case KeyLarge:
		return 1024
	default:
		return 0
	}
}

func (k KeySize) String() string {
	switch k {
	case KeySmall:
		return "small"
	case KeyMedium:
		return "medium"
	case KeyLarge:
		return "large"
	default:
		return "unknown"
	}
}

// ParseKeySize parses a [CrashKeys] value.
func ParseKeySize(s string) (KeySize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "small":
		return KeySmall, nil
	case "medium":
		return KeyMedium, nil
	case "large":
		return KeyLarge, nil
	default:
		return 0, fmt.Errorf("unknown crash key size %q", s)
	}
}

// Config mirrors the [Config] section. Zero values of the numeric limits are
// replaced with the documented defaults by LoadConfig.
type Config struct {
	ProductName          string
	ProductVersion       string
	AppName              string
	ExternalHandler      string
	ServerURL            string
	RateLimitEnabled     bool
	MaxUploadsPerDay     int
	MaxDatabaseSizeInMb  int
	MaxDatabaseAgeInDays int

	// Keys maps declared crash key names to their size class.
	Keys map[string]KeySize

	// Loaded is false when no file was found.
	Loaded bool
}

// DefaultConfig returns the configuration used when crash_reporter.cfg is absent.
func DefaultConfig() Config {
	return Config{
		RateLimitEnabled:     true,
		MaxUploadsPerDay:     5,
		MaxDatabaseSizeInMb:  20,
		MaxDatabaseAgeInDays: 5,
		Keys:                 map[string]KeySize{},
	}
}

// LoadConfig reads crash_reporter.cfg at path. A missing file is not an
// error; it yields DefaultConfig with Loaded=false.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}

	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return Config{}, fmt.Errorf("load crash config %s: %w", path, err)
	}

	sec := f.Section(sectionConfig)
	cfg.ProductName = sec.Key("ProductName").String()
	cfg.ProductVersion = sec.Key("ProductVersion").String()
	cfg.AppName = sec.Key("AppName").String()
	cfg.ExternalHandler = sec.Key("ExternalHandler").String()
	cfg.ServerURL = sec.Key("ServerURL").String()
	cfg.RateLimitEnabled = sec.Key("RateLimitEnabled").MustBool(cfg.RateLimitEnabled)
	cfg.MaxUploadsPerDay = sec.Key("MaxUploadsPerDay").MustInt(cfg.MaxUploadsPerDay)
	cfg.MaxDatabaseSizeInMb = sec.Key("MaxDatabaseSizeInMb").MustInt(cfg.MaxDatabaseSizeInMb)
	cfg.MaxDatabaseAgeInDays = sec.Key("MaxDatabaseAgeInDays").MustInt(cfg.MaxDatabaseAgeInDays)

	for _, key := range f.Section(sectionCrashKeys).Keys() {
		size, err := ParseKeySize(key.String())
		if err != nil {
			return Config{}, fmt.Errorf("crash key %s: %w", key.Name(), err)
		}
		cfg.Keys[key.Name()] = size
	}

	cfg.Loaded = true
	return cfg, nil
}

// KeyNames returns the declared crash key names in sorted order.
func (c Config) KeyNames() []string {
	names := make([]string, 0, len(c.Keys))
	for name := range c.Keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
