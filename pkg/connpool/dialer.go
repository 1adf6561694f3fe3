package connpool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens one connection to endpoint. It must honour ctx.
type Dialer func(ctx context.Context, endpoint string) (net.Conn, error)

// DefaultDialer supports tcp://, tls://, ws:// and wss:// endpoints and
// bare host:port addresses (TCP).
func DefaultDialer(ctx context.Context, endpoint string) (net.Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		// Not a URL, e.g. "localhost:9000".
		return dialTCP(ctx, endpoint)
	}

	host := u.Host
	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "tcp":
		return dialTCP(ctx, host)
	case "tls":
		return dialTLS(ctx, withPort(host, "443"), nil)
	case "ws", "wss":
		u.Scheme = scheme
		if u.Port() == "" {
			port := "80"
			if scheme == "wss" {
				port = "443"
			}
			u.Host = net.JoinHostPort(u.Hostname(), port)
		}
		return dialWebSocket(ctx, u.String(), nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}

func withPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, port)
}

func dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func dialTLS(ctx context.Context, addr string, config *tls.Config) (net.Conn, error) {
	if config == nil {
		host, _, _ := net.SplitHostPort(addr)
		config = &tls.Config{ServerName: host}
	}
	d := tls.Dialer{Config: config}
	return d.DialContext(ctx, "tcp", addr)
}

func dialWebSocket(ctx context.Context, urlStr string, tlsConfig *tls.Config) (net.Conn, error) {
	dialer := websocket.Dialer{
		TLSClientConfig:  tlsConfig,
		HandshakeTimeout: 10 * time.Second,
	}
	ws, resp, err := dialer.DialContext(ctx, urlStr, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return NewWSConn(ws), nil
}

// NewWSConn adapts a websocket connection to net.Conn. Each Write sends one
// binary message; Read returns message payloads as a byte stream.
func NewWSConn(ws *websocket.Conn) net.Conn {
	return &wsConn{ws: ws}
}

type wsConn struct {
	ws *websocket.Conn

	readMu  sync.Mutex
	pending []byte

	writeMu sync.Mutex
}

func (c *wsConn) Read(b []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for len(c.pending) == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.pending = data
	}
	n := copy(b, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *wsConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

var _ net.Conn = (*wsConn)(nil)
