package subprocess

import (
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/seantiz/enginehost/internal/crash"
	"github.com/seantiz/enginehost/internal/model"
)

func testReporter() *crash.Reporter {
	cfg := crash.DefaultConfig()
	cfg.Loaded = true
	cfg.Keys = map[string]crash.KeySize{"url": crash.KeySmall}
	return crash.NewReporter(cfg)
}

// serveOverPipe runs an agent on one end of a pipe and returns a client for
// the other end plus a channel carrying the agent's exit code.
func serveOverPipe(t *testing.T, role string) (*Client, <-chan int) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	agent := NewAgent(role, testReporter(), nil)
	exit := make(chan int, 1)
	go func() {
		defer server.Close()
		exit <- agent.Serve(server, server)
	}()
	return NewClient(client, client), exit
}

func TestAgentPingAndExit(t *testing.T) {
	c, exit := serveOverPipe(t, RoleRenderer)

	role, err := c.Ping()
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if role != RoleRenderer {
		t.Errorf("role = %q, want %q", role, RoleRenderer)
	}

	if err := c.Exit(7); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if code := <-exit; code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
}

func TestAgentCrashKey(t *testing.T) {
	c, _ := serveOverPipe(t, RoleGPU)

	resp, err := c.Call(Request{Type: MsgTypeCrashKey, Key: "url", Value: strings.Repeat("x", 100)})
	if err != nil {
		t.Fatalf("set crash key: %v", err)
	}
	if got := resp.Annotations["url"]; len(got) != crash.KeySmall.Bytes() {
		t.Errorf("annotation length = %d, want %d", len(got), crash.KeySmall.Bytes())
	}

	if err := c.SetCrashKey("undeclared", "v"); err == nil {
		t.Error("setting an undeclared key should fail")
	}
}

func TestAgentUnknownRequest(t *testing.T) {
	c, _ := serveOverPipe(t, RoleUtility)

	_, err := c.Call(Request{Type: "reload"})
	if err == nil || !strings.Contains(err.Error(), "unknown request type") {
		t.Errorf("Call = %v, want unknown request error", err)
	}
	// The agent keeps serving after a bad request.
	if _, err := c.Ping(); err != nil {
		t.Errorf("Ping after error: %v", err)
	}
}

func TestAgentExitsNormallyOnEOF(t *testing.T) {
	agent := NewAgent(RoleRenderer, nil, nil)
	var out bytes.Buffer
	if code := agent.Serve(&bytes.Buffer{}, &out); code != int(model.ResultCodeNormalExit) {
		t.Errorf("exit code = %d, want normal exit", code)
	}
	if out.Len() != 0 {
		t.Errorf("agent wrote %d bytes without a request", out.Len())
	}
}

func TestAgentBadFrame(t *testing.T) {
	agent := NewAgent(RoleRenderer, nil, nil)
	in := bytes.NewBufferString("\x00\x00\x00\x05oops!")
	if code := agent.Serve(in, &bytes.Buffer{}); code != int(model.ResultCodeKilledBadMessage) {
		t.Errorf("exit code = %d, want killed_bad_message", code)
	}
}

func TestKnownRole(t *testing.T) {
	for _, role := range Roles {
		if !KnownRole(role) {
			t.Errorf("KnownRole(%q) = false", role)
		}
	}
	if KnownRole("browser") || KnownRole("") {
		t.Error("browser and empty roles are not secondary roles")
	}
}
