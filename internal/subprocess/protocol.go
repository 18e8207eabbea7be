package subprocess

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxMessageSize is the maximum allowed control message payload (16 MiB).
const MaxMessageSize = 16 << 20

// Host→subprocess request types.
const (
	MsgTypePing     = "ping"
	MsgTypeCrashKey = "crash_key"
	MsgTypeExit     = "exit"
)

// Subprocess→host response types.
const (
	MsgTypePong  = "pong"
	MsgTypeAck   = "ack"
	MsgTypeBye   = "bye"
	MsgTypeError = "error"
)

// Request is the envelope for every host→subprocess control message.
type Request struct {
	Type  string `json:"type"`
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
	Code  int    `json:"code,omitempty"`
}

// Response is the envelope for every subprocess→host control message.
type Response struct {
	Type        string            `json:"type"`
	Role        string            `json:"role,omitempty"`
	PID         int               `json:"pid,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Code        int               `json:"code,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// WriteMessage writes a length-prefixed JSON message to w.
// The frame format is: 4-byte big-endian length prefix followed by the JSON payload.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxMessageSize)
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed JSON message from r and decodes it into v.
// A clean end of stream before the length prefix returns io.EOF unwrapped.
func ReadMessage(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}
