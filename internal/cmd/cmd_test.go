package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/enginehost/internal/config"
	"github.com/seantiz/enginehost/internal/engine"
	"github.com/seantiz/enginehost/internal/store"
)

func TestPumpSchedulerKeepsLaterRequests(t *testing.T) {
	p := newPumpScheduler()
	p.schedule(time.Hour)
	p.schedule(0)
	p.schedule(-time.Second)

	if d, ok := p.next(); !ok || d != 0 {
		t.Errorf("next = %v, %v, want 0, true", d, ok)
	}
	if n := p.take(time.Now()); n != 2 {
		t.Errorf("take = %d, want 2", n)
	}
	d, ok := p.next()
	if !ok || d < 59*time.Minute {
		t.Errorf("next after take = %v, %v, want about an hour", d, ok)
	}
	if n := p.take(time.Now()); n != 0 {
		t.Errorf("take before due = %d, want 0", n)
	}
}

func TestExecuteProcessBrowserRole(t *testing.T) {
	t.Setenv("ENGINEHOST_CRASH_CONFIG", filepath.Join(t.TempDir(), "missing.cfg"))
	if code := ExecuteProcess([]string{"enginehost", "serve"}); code != -1 {
		t.Errorf("ExecuteProcess = %d, want -1", code)
	}
	if code := ExecuteProcess([]string{"enginehost", "--type=zygote"}); code != 13 {
		t.Errorf("ExecuteProcess unknown role = %d, want 13", code)
	}
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("enginehost %v: %v", args, err)
	}
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	out := execute(t, "version")

	var v versionOutput
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if v.Host != Version || v.Engine.Engine != "sim" || v.Engine.Chromium == "" {
		t.Errorf("version = %+v", v)
	}
}

func TestCrashKeysCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash_reporter.cfg")
	body := "[Config]\nProductName=EngineHost\nProductVersion=2.0\n\n[CrashKeys]\nurl=medium\nengine_state=small\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENGINEHOST_CRASH_CONFIG", path)

	out := execute(t, "crash-keys")
	for _, want := range []string{"EngineHost 2.0", "engine_state", "small", "url", "medium", "256"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCrashKeysCommandWithoutConfig(t *testing.T) {
	t.Setenv("ENGINEHOST_CRASH_CONFIG", filepath.Join(t.TempDir(), "missing.cfg"))

	if out := execute(t, "crash-keys"); !strings.Contains(out, "crash reporting disabled") {
		t.Errorf("output = %q", out)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestRunQuitOverHTTP(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		ListenAddr:        freeAddr(t),
		DBPath:            filepath.Join(dir, "enginehost.db"),
		Engine:            "sim",
		DrainTimeout:      2 * time.Second,
		DrainPollInterval: 5 * time.Millisecond,
		CrashConfigPath:   filepath.Join(dir, "missing.cfg"),
		Settings:          config.DefaultSettings(),
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	// A browser that finishes closing shortly after it is asked to.
	setup := func(rt *engine.Runtime) error {
		var h *engine.Handle
		h = engine.NewDeferredHandle("browser", func() error {
			time.AfterFunc(20*time.Millisecond, func() { rt.Disposables().Unregister(h) })
			return nil
		})
		return rt.Disposables().Register(h)
	}

	go func() {
		base := "http://" + cfg.ListenAddr
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			resp, err := http.Get(base + "/healthz")
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
		}
		resp, err := http.Post(base+"/v1/engine/quit", "application/json", nil)
		if err == nil {
			resp.Body.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := Run(ctx, cfg, logger, RunOptions{Setup: setup}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Run returned on the test deadline, not the quit request")
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	sessions, total, err := db.ListShutdownSessions(context.Background(), 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("shutdown sessions = %d, want 1", total)
	}
	sess := sessions[0]
	if !sess.PreShutdownRan || !sess.DrainWaited || sess.DrainTimedOut || !sess.Done() {
		t.Errorf("session = %+v", sess)
	}
	if _, total, _ := db.ListTransitions(context.Background(), 10, 0); total != 4 {
		t.Errorf("transitions = %d, want 4", total)
	}
}
