package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/lokutor-realtime/pkg/orchestrator"
)

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview-2024-12-17"
)

// WebSocketDialer opens realtime sessions over a websocket.
type WebSocketDialer struct {
	apiKey string
	url    string
	model  string
	header http.Header
}

// NewWebSocketDialer creates a dialer for the default endpoint and model.
func NewWebSocketDialer(apiKey string) *WebSocketDialer {
	return &WebSocketDialer{
		apiKey: apiKey,
		url:    DefaultURL,
		model:  DefaultModel,
	}
}

// WithURL overrides the endpoint.
func (d *WebSocketDialer) WithURL(endpoint string) *WebSocketDialer {
	d.url = endpoint
	return d
}

// WithModel overrides the model query parameter. An empty model leaves the
// URL untouched.
func (d *WebSocketDialer) WithModel(model string) *WebSocketDialer {
	d.model = model
	return d
}

// WithHeader adds a header sent with the handshake.
func (d *WebSocketDialer) WithHeader(key, value string) *WebSocketDialer {
	if d.header == nil {
		d.header = http.Header{}
	}
	d.header.Add(key, value)
	return d
}

func (d *WebSocketDialer) endpoint() (string, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	if d.model != "" {
		q := u.Query()
		q.Set("model", d.model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial performs the websocket handshake.
func (d *WebSocketDialer) Dial(ctx context.Context) (orchestrator.Conn, error) {
	endpoint, err := d.endpoint()
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	for k, v := range d.header {
		h[k] = append([]string(nil), v...)
	}
	h.Set("Authorization", "Bearer "+d.apiKey)
	h.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to realtime service: %w", err)
	}

	conn.SetReadLimit(10 * 1024 * 1024)

	return &WebSocketConn{conn: conn}, nil
}

// WebSocketConn adapts a websocket to orchestrator.Conn.
type WebSocketConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// ReadEvent returns the next text message. Binary messages are skipped.
func (c *WebSocketConn) ReadEvent(ctx context.Context) ([]byte, error) {
	for {
		messageType, payload, err := c.conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read from realtime service: %w", err)
		}
		if messageType == websocket.MessageText {
			return payload, nil
		}
	}
}

// WriteEvent sends v as a JSON text message.
func (c *WebSocketConn) WriteEvent(ctx context.Context, v interface{}) error {
	if err := wsjson.Write(ctx, c.conn, v); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	return nil
}

// Close performs a normal closure. Closing twice is a no-op.
func (c *WebSocketConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
