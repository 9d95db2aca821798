// Package dahua speaks the device JSON-RPC dialect used by Dahua ANPR
// cameras: session login, keep-alive, and a chunked event attachment
// stream delivering TrafficJunction captures.
package dahua

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/technosupport/ts-anpr/internal/camera"
)

const eventCode = "TrafficJunction"

type Conn struct {
	target camera.Target
	client *http.Client

	mu      sync.Mutex
	streams map[camera.SubHandle]context.CancelFunc
}

func New(target camera.Target) *Conn {
	return &Conn{
		target: target,
		client: &http.Client{Timeout: camera.DefaultTimeout},
		// Streaming requests use a separate no-timeout client; the
		// per-call timeout would kill the long-lived attachment.
		streams: make(map[camera.SubHandle]context.CancelFunc),
	}
}

func init() {
	camera.Register("dahua", func(target camera.Target) camera.DeviceConn {
		return New(target)
	})
}

func (c *Conn) Kind() string {
	return "dahua_json"
}

func (c *Conn) baseURL() string {
	return fmt.Sprintf("http://%s:%d", c.target.Address, c.target.Port)
}

// Login authenticates with global.login and returns the session id the
// device issues. The session stays valid until logout or network loss.
func (c *Conn) Login(ctx context.Context, cred camera.Credential) (camera.LoginHandle, error) {
	if c.target.Address == "" || c.target.Port <= 0 {
		return "", fmt.Errorf("dahua: target address/port required")
	}
	if cred.Username == "" || cred.Password == "" {
		return "", fmt.Errorf("dahua: %w", camera.ErrAuthFailed)
	}

	req := rpcRequest{
		Method: "global.login",
		Params: map[string]interface{}{
			"userName":   cred.Username,
			"password":   cred.Password,
			"clientType": "NetKeyboard",
		},
		ID: 1,
	}

	var resp struct {
		Result  bool      `json:"result"`
		Session string    `json:"session"`
		Error   *rpcError `json:"error"`
	}
	if err := c.doRPC(ctx, "/RPC2_Login", "", req, &resp); err != nil {
		return "", fmt.Errorf("dahua login: %w", err)
	}
	if !resp.Result || resp.Session == "" {
		if resp.Error != nil && resp.Error.Code == codeAuthFailed {
			return "", fmt.Errorf("dahua login: %w", camera.ErrAuthFailed)
		}
		return "", fmt.Errorf("dahua login rejected: %s", resp.Error.message())
	}

	return camera.LoginHandle(resp.Session), nil
}

// Subscribe attaches to the event manager for plate captures on the
// channel and starts a reader goroutine that invokes cb per event. The
// goroutine is owned by the subscription and stops on Unsubscribe.
func (c *Conn) Subscribe(ctx context.Context, login camera.LoginHandle, channel int, cb camera.EventFunc) (camera.SubHandle, error) {
	if login == "" {
		return "", camera.ErrNotConnected
	}

	req := rpcRequest{
		Method:  "eventManager.attach",
		Session: string(login),
		Params: map[string]interface{}{
			"codes":   []string{eventCode},
			"channel": channel,
		},
		ID: 2,
	}

	var resp struct {
		Result bool `json:"result"`
		Params struct {
			SID string `json:"SID"`
		} `json:"params"`
		Error *rpcError `json:"error"`
	}
	if err := c.doRPC(ctx, "/RPC2", login, req, &resp); err != nil {
		return "", fmt.Errorf("dahua attach: %w", err)
	}
	if !resp.Result || resp.Params.SID == "" {
		return "", fmt.Errorf("%w: %s", camera.ErrSubscribeFailed, resp.Error.message())
	}

	sub := camera.SubHandle(resp.Params.SID)

	streamCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.streams[sub] = cancel
	c.mu.Unlock()

	go c.readEvents(streamCtx, login, sub, cb)

	return sub, nil
}

// KeepAlive probes the session. Any error (including a negative reply)
// means the session is dead and must be rebuilt.
func (c *Conn) KeepAlive(ctx context.Context, login camera.LoginHandle) error {
	if login == "" {
		return camera.ErrNotConnected
	}

	req := rpcRequest{
		Method:  "global.keepAlive",
		Session: string(login),
		Params:  map[string]interface{}{"timeout": 60, "active": true},
		ID:      3,
	}

	var resp struct {
		Result bool      `json:"result"`
		Error  *rpcError `json:"error"`
	}
	if err := c.doRPC(ctx, "/RPC2", login, req, &resp); err != nil {
		return err
	}
	if !resp.Result {
		return fmt.Errorf("dahua keepAlive rejected: %s", resp.Error.message())
	}
	return nil
}

func (c *Conn) Unsubscribe(sub camera.SubHandle) error {
	c.mu.Lock()
	cancel, ok := c.streams[sub]
	if ok {
		delete(c.streams, sub)
	}
	c.mu.Unlock()

	if ok {
		cancel()
	}
	// Detach is best-effort; the device drops the SID with the session.
	return nil
}

func (c *Conn) Logout(login camera.LoginHandle) error {
	if login == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), camera.DefaultTimeout)
	defer cancel()

	req := rpcRequest{
		Method:  "global.logout",
		Session: string(login),
		ID:      4,
	}
	var resp struct {
		Result bool `json:"result"`
	}
	// Errors swallowed: the device may already be gone.
	_ = c.doRPC(ctx, "/RPC2", login, req, &resp)
	return nil
}

// readEvents consumes the chunked attachment stream. Each line is one
// JSON notification carrying the capture fields and a base64 image.
// This goroutine is the "SDK thread": cb must hand off and return.
func (c *Conn) readEvents(ctx context.Context, login camera.LoginHandle, sub camera.SubHandle, cb camera.EventFunc) {
	url := fmt.Sprintf("%s/RPC2_Stream?SID=%s", c.baseURL(), sub)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	req.Header.Set("X-Session", string(login))

	// No client timeout here: the stream lives until unsubscribe.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024) // plate image frames

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var n notification
		if err := json.Unmarshal(line, &n); err != nil {
			continue // malformed frame, keep the stream alive
		}
		if n.Code != eventCode {
			continue
		}

		img, _ := base64.StdEncoding.DecodeString(n.Data.Picture)

		fields := make(map[string]string, len(n.Data.Extra))
		for k, v := range n.Data.Extra {
			fields[k] = fmt.Sprintf("%v", v)
		}

		cb(camera.RawEvent{
			Plate:     n.Data.PlateNumber,
			Timestamp: n.Data.UTC,
			Image:     img,
			Fields:    fields,
		})
	}
}

const codeAuthFailed = 268632085

type rpcRequest struct {
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	Session string      `json:"session,omitempty"`
	ID      int         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) message() string {
	if e == nil {
		return "unknown error"
	}
	return e.Message
}

type notification struct {
	Code string `json:"code"`
	Data struct {
		PlateNumber string                 `json:"PlateNumber"`
		UTC         string                 `json:"UTC"`
		Picture     string                 `json:"Picture"`
		Extra       map[string]interface{} `json:"Extra"`
	} `json:"data"`
}

func (c *Conn) doRPC(ctx context.Context, path string, login camera.LoginHandle, reqBody interface{}, out interface{}) error {
	payload, _ := json.Marshal(reqBody)

	hReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+path, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	hReq.Header.Set("Content-Type", "application/json")
	if login != "" {
		hReq.Header.Set("X-Session", string(login))
	}

	resp, err := c.client.Do(hReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dahua: rpc status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
