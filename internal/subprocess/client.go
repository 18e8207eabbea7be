package subprocess

import (
	"fmt"
	"io"
	"sync"
)

// Client is the browser-process side of a control channel.
type Client struct {
	mu sync.Mutex
	r  io.Reader
	w  io.Writer
}

// NewClient creates a client reading responses from r and writing requests to w.
func NewClient(r io.Reader, w io.Writer) *Client {
	return &Client{r: r, w: w}
}

// Call sends req and waits for its response. An error response is returned
// as an error.
func (c *Client) Call(req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := WriteMessage(c.w, &req); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", req.Type, err)
	}
	var resp Response
	if err := ReadMessage(c.r, &resp); err != nil {
		return Response{}, fmt.Errorf("receive %s reply: %w", req.Type, err)
	}
	if resp.Type == MsgTypeError {
		return resp, fmt.Errorf("%s: %s", req.Type, resp.Error)
	}
	return resp, nil
}

// Ping checks that the subprocess is serving and returns its role.
func (c *Client) Ping() (string, error) {
	resp, err := c.Call(Request{Type: MsgTypePing})
	return resp.Role, err
}

// SetCrashKey sets a crash key in the subprocess.
func (c *Client) SetCrashKey(key, value string) error {
	_, err := c.Call(Request{Type: MsgTypeCrashKey, Key: key, Value: value})
	return err
}

// Exit asks the subprocess to exit with code.
func (c *Client) Exit(code int) error {
	_, err := c.Call(Request{Type: MsgTypeExit, Code: code})
	return err
}
