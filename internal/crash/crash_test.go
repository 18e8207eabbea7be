package crash

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

const sampleConfig = `# Crash reporting configuration
[Config]
ProductName=EngineHost
ProductVersion=1.2.3
AppName=enginehost
ServerURL=https://crash.example.com/submit
RateLimitEnabled=false
MaxUploadsPerDay=10

[CrashKeys]
engine_state=small
last_url=medium
dom_dump=large
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crash_reporter.cfg")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.Loaded {
		t.Error("Loaded should be true")
	}
	if cfg.ProductName != "EngineHost" || cfg.ProductVersion != "1.2.3" || cfg.AppName != "enginehost" {
		t.Errorf("product fields = %q %q %q", cfg.ProductName, cfg.ProductVersion, cfg.AppName)
	}
	if cfg.ServerURL != "https://crash.example.com/submit" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.RateLimitEnabled {
		t.Error("RateLimitEnabled should be false")
	}
	if cfg.MaxUploadsPerDay != 10 {
		t.Errorf("MaxUploadsPerDay = %d, want 10", cfg.MaxUploadsPerDay)
	}
	// Unset limits keep their defaults.
	if cfg.MaxDatabaseSizeInMb != 20 || cfg.MaxDatabaseAgeInDays != 5 {
		t.Errorf("database limits = %d/%d, want 20/5", cfg.MaxDatabaseSizeInMb, cfg.MaxDatabaseAgeInDays)
	}

	want := map[string]KeySize{"engine_state": KeySmall, "last_url": KeyMedium, "dom_dump": KeyLarge}
	if len(cfg.Keys) != len(want) {
		t.Fatalf("Keys = %v, want %v", cfg.Keys, want)
	}
	for k, v := range want {
		if cfg.Keys[k] != v {
			t.Errorf("Keys[%s] = %s, want %s", k, cfg.Keys[k], v)
		}
	}
	if got := strings.Join(cfg.KeyNames(), ","); got != "dom_dump,engine_state,last_url" {
		t.Errorf("KeyNames = %s", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "crash_reporter.cfg"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Loaded {
		t.Error("Loaded should be false for a missing file")
	}
	if !cfg.RateLimitEnabled || cfg.MaxUploadsPerDay != 5 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if NewReporter(cfg).Enabled() {
		t.Error("reporter should be disabled without a config file")
	}
}

func TestLoadConfigBadKeySize(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "[CrashKeys]\nfoo=huge\n"))
	if err == nil {
		t.Fatal("expected error for unknown key size")
	}
}

func TestSetCrashKeyValueTruncates(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	r := NewReporter(cfg)

	if !r.SetCrashKeyValue("engine_state", strings.Repeat("x", 100)) {
		t.Fatal("declared key rejected")
	}
	v, _ := r.Value("engine_state")
	if len(v) != KeySmall.Bytes() {
		t.Errorf("len = %d, want %d", len(v), KeySmall.Bytes())
	}

	if r.SetCrashKeyValue("undeclared", "v") {
		t.Error("undeclared key should be ignored")
	}
	if _, ok := r.Value("undeclared"); ok {
		t.Error("undeclared key stored")
	}

	r.SetCrashKeyValue("engine_state", "")
	if _, ok := r.Value("engine_state"); ok {
		t.Error("empty value should clear the key")
	}
}

func TestAnnotationsChunkLargeValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	r := NewReporter(cfg)

	large := strings.Repeat("a", chunkSize) + strings.Repeat("b", chunkSize) + "c"
	r.SetCrashKeyValue("dom_dump", large)
	r.SetCrashKeyValue("last_url", "https://example.com/")

	ann := r.Annotations()
	if ann["last_url"] != "https://example.com/" {
		t.Errorf("last_url = %q", ann["last_url"])
	}
	if _, ok := ann["dom_dump"]; ok {
		t.Error("large value should only appear chunked")
	}
	if ann["dom_dump-1"] != strings.Repeat("a", chunkSize) {
		t.Error("chunk 1 mismatch")
	}
	if ann["dom_dump-2"] != strings.Repeat("b", chunkSize) {
		t.Error("chunk 2 mismatch")
	}
	if ann["dom_dump-3"] != "c" {
		t.Errorf("chunk 3 = %q, want c", ann["dom_dump-3"])
	}
	if len(ann) != 4 {
		t.Errorf("len(annotations) = %d, want 4", len(ann))
	}
}

func TestTruncationKeepsRunesWhole(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	r := NewReporter(cfg)

	// 63 bytes of ASCII then a 3-byte rune straddling the 64-byte limit.
	r.SetCrashKeyValue("engine_state", strings.Repeat("x", 63)+"€tail")
	v, _ := r.Value("engine_state")
	if v != strings.Repeat("x", 63) {
		t.Errorf("value = %q (%d bytes), want the 63 ASCII bytes", v, len(v))
	}

	large := strings.Repeat("a", chunkSize-1) + strings.Repeat("é", 10)
	r.SetCrashKeyValue("dom_dump", large)
	ann := r.Annotations()
	var joined string
	for i := 1; ; i++ {
		chunk, ok := ann[fmt.Sprintf("dom_dump-%d", i)]
		if !ok {
			break
		}
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, chunk)
		}
		if len(chunk) > chunkSize {
			t.Errorf("chunk %d is %d bytes, over %d", i, len(chunk), chunkSize)
		}
		joined += chunk
	}
	if joined != large {
		t.Error("chunks do not reassemble the value")
	}
	if ann["dom_dump-1"] != strings.Repeat("a", chunkSize-1) {
		t.Errorf("chunk 1 = %q, want the ASCII prefix only", ann["dom_dump-1"])
	}
}

func TestNilReporter(t *testing.T) {
	var r *Reporter
	if r.Enabled() || r.Declared("x") || r.SetCrashKeyValue("x", "y") {
		t.Error("nil reporter should be inert")
	}
}
