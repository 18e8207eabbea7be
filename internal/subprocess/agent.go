// Package subprocess implements the secondary process roles of the engine
// (renderer, gpu-process, utility). A secondary process serves length-prefixed
// JSON control messages from the browser process on stdin and answers on
// stdout until told to exit or the stream closes.
package subprocess

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/seantiz/enginehost/internal/crash"
	"github.com/seantiz/enginehost/internal/model"
)

// Secondary process roles, as passed in --type.
const (
	RoleRenderer = "renderer"
	RoleGPU      = "gpu-process"
	RoleUtility  = "utility"
)

// Roles lists the recognized secondary roles.
var Roles = []string{RoleRenderer, RoleGPU, RoleUtility}

// KnownRole reports whether role names a secondary process.
func KnownRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Agent serves control messages for one secondary process.
type Agent struct {
	role   string
	crash  *crash.Reporter
	logger *slog.Logger
}

// NewAgent creates an agent for role. rep may be nil.
func NewAgent(role string, rep *crash.Reporter, logger *slog.Logger) *Agent {
	if rep == nil {
		rep = crash.NewReporter(crash.DefaultConfig())
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Agent{
		role:   role,
		crash:  rep,
		logger: logger.With("role", role),
	}
}

// Serve handles requests from r until an exit request or end of stream and
// returns the process exit code.
func (a *Agent) Serve(r io.Reader, w io.Writer) int {
	a.logger.Info("subprocess started", "pid", os.Getpid())
	for {
		var req Request
		if err := ReadMessage(r, &req); err != nil {
			if errors.Is(err, io.EOF) {
				a.logger.Info("control stream closed")
				return int(model.ResultCodeNormalExit)
			}
			a.logger.Error("read request", "error", err)
			return int(model.ResultCodeKilledBadMessage)
		}

		resp, exit := a.handle(req)
		if err := WriteMessage(w, &resp); err != nil {
			a.logger.Error("write response", "type", resp.Type, "error", err)
			return int(model.ResultCodeKilled)
		}
		if exit {
			a.logger.Info("subprocess exiting", "code", resp.Code)
			return resp.Code
		}
	}
}

func (a *Agent) handle(req Request) (Response, bool) {
	switch req.Type {
	case MsgTypePing:
		return Response{Type: MsgTypePong, Role: a.role, PID: os.Getpid()}, false
	case MsgTypeCrashKey:
		if !a.crash.SetCrashKeyValue(req.Key, req.Value) {
			return Response{Type: MsgTypeError, Error: fmt.Sprintf("crash key %q is not declared", req.Key)}, false
		}
		return Response{Type: MsgTypeAck, Annotations: a.crash.Annotations()}, false
	case MsgTypeExit:
		return Response{Type: MsgTypeBye, Code: req.Code}, true
	default:
		return Response{Type: MsgTypeError, Error: fmt.Sprintf("unknown request type %q", req.Type)}, false
	}
}
