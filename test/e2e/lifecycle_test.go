package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/seantiz/enginehost/internal/store"
	"github.com/seantiz/enginehost/internal/subprocess"
)

const (
	startupTimeout = 10 * time.Second
	exitTimeout    = 15 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running host subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
	dbPath string
	exited chan error
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "enginehost-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "testserver")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/testserver")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func startServer(t *testing.T, binary string, env ...string) *serverProc {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(),
		"ENGINEHOST_LISTEN_ADDR="+addr,
		"ENGINEHOST_DB_PATH="+dbPath,
		"ENGINEHOST_LOG_LEVEL=info",
		"ENGINEHOST_CRASH_CONFIG="+filepath.Join(dir, "crash_reporter.cfg"),
	)
	cmd.Env = append(cmd.Env, env...)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
		dbPath: dbPath,
		exited: make(chan error, 1),
	}
	go func() { sp.exited <- cmd.Wait() }()

	t.Cleanup(func() {
		cmd.Process.Kill()
		<-sp.exited
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

// waitExit waits for the process to exit and returns its exit code.
func (sp *serverProc) waitExit(t *testing.T) int {
	t.Helper()
	select {
	case err := <-sp.exited:
		sp.exited <- err
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		return 0
	case <-time.After(exitTimeout):
		t.Fatalf("server did not exit within %v\nstdout:\n%s", exitTimeout, sp.stdout.String())
		return -1
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode
}

func openJournal(t *testing.T, path string) store.Store {
	t.Helper()
	db, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEngineRunning(t *testing.T) {
	sp := startServer(t, getBinary(t))

	var health map[string]string
	if code := getJSON(t, sp.url+"/healthz", &health); code != http.StatusOK {
		t.Errorf("healthz status = %d", code)
	}
	if health["state"] != "initialized" {
		t.Errorf("state = %q, want initialized", health["state"])
	}

	var eng map[string]any
	getJSON(t, sp.url+"/v1/engine", &eng)
	if eng["initialized"] != true {
		t.Errorf("engine = %v", eng)
	}

	var disposables struct {
		Total int `json:"total"`
	}
	getJSON(t, sp.url+"/v1/disposables", &disposables)
	if disposables.Total != 2 {
		t.Errorf("disposables = %d, want 2", disposables.Total)
	}

	resp, err := http.Get(sp.url + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, name := range []string{"enginehost_http_requests_total", "enginehost_engine_state", "enginehost_disposables_registered"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestStructuredJSONLogs(t *testing.T) {
	sp := startServer(t, getBinary(t))

	resp, err := http.Get(sp.url + "/v1/engine")
	if err != nil {
		t.Fatalf("GET /v1/engine: %v", err)
	}
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(sp.stdout.String(), `"msg":"request"`) {
		time.Sleep(50 * time.Millisecond)
	}

	scanner := bufio.NewScanner(strings.NewReader(sp.stdout.String()))
	found := false
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry["msg"] != "request" {
			continue
		}
		found = true
		for _, key := range []string{"method", "path", "status", "duration_ms"} {
			if _, ok := entry[key]; !ok {
				t.Errorf("request log missing %q", key)
			}
		}
		break
	}
	if !found {
		t.Errorf("no request log line found\nstdout:\n%s", sp.stdout.String())
	}
}

func TestSIGTERMDrainsBrowsers(t *testing.T) {
	sp := startServer(t, getBinary(t),
		"TESTSERVER_BROWSERS=3",
		"TESTSERVER_CLOSE_DELAY_MS=200",
	)

	if err := sp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if code := sp.waitExit(t); code != 0 {
		t.Fatalf("exit code = %d, want 0\nstdout:\n%s", code, sp.stdout.String())
	}

	db := openJournal(t, sp.dbPath)
	ctx := context.Background()

	sessions, total, err := db.ListShutdownSessions(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("shutdown sessions = %d, want 1", total)
	}
	sess := sessions[0]
	if !sess.DrainWaited || sess.DrainTimedOut || len(sess.Outstanding) != 3 || !sess.Done() {
		t.Errorf("session = %+v", sess)
	}
	if sess.DrainMS < 150 {
		t.Errorf("drain took %dms, want at least the close delay", sess.DrainMS)
	}

	transitions, _, err := db.ListTransitions(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"initializing", "initialized", "shutting_down", "shutdown"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %d, want %d", len(transitions), len(want))
	}
	for i, tr := range transitions {
		if tr.To.String() != want[i] {
			t.Errorf("transition[%d] to %s, want %s", i, tr.To, want[i])
		}
	}
}

func TestDrainTimeoutIsNotFatal(t *testing.T) {
	sp := startServer(t, getBinary(t),
		"TESTSERVER_BROWSERS=1",
		"TESTSERVER_CLOSE_DELAY_MS=60000",
		"ENGINEHOST_DRAIN_TIMEOUT=300ms",
	)

	resp, err := http.Post(sp.url+"/v1/engine/quit", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /v1/engine/quit: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("quit status = %d, want 202", resp.StatusCode)
	}

	if code := sp.waitExit(t); code != 0 {
		t.Fatalf("exit code = %d, want 0\nstdout:\n%s", code, sp.stdout.String())
	}
	if !strings.Contains(sp.stdout.String(), "drain timed out") {
		t.Error("expected a drain timeout warning in the log")
	}

	stats, err := openJournal(t, sp.dbPath).GetJournalStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.DrainTimeouts != 1 {
		t.Errorf("drain timeouts = %d, want 1", stats.DrainTimeouts)
	}
}

func TestSubprocessControlChannel(t *testing.T) {
	binary := getBinary(t)

	cmd := exec.Command(binary, "--type=renderer", "--lang=en-US")
	cmd.Env = append(os.Environ(), "ENGINEHOST_CRASH_CONFIG="+filepath.Join(t.TempDir(), "missing.cfg"))
	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start subprocess: %v", err)
	}
	t.Cleanup(func() { cmd.Process.Kill() })

	client := subprocess.NewClient(stdout, stdin)
	role, err := client.Ping()
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if role != subprocess.RoleRenderer {
		t.Errorf("role = %q, want %q", role, subprocess.RoleRenderer)
	}
	if err := client.Exit(4); err != nil {
		t.Fatalf("exit: %v", err)
	}

	err = cmd.Wait()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 4 {
		t.Errorf("wait = %v, want exit code 4", err)
	}
}
