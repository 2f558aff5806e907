// Package console is the operator side of the command channel: sealed
// client connections, the supervised fleet of managed hosts and the
// remote-desktop viewer.
package console

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/avaropoint/mcc/internal/protocol"
	"github.com/avaropoint/mcc/internal/security"
)

const (
	// DefaultDialTimeout bounds connect plus handshake.
	DefaultDialTimeout = 3 * time.Second

	// DefaultRequestTimeout bounds one request/response round trip.
	DefaultRequestTimeout = 30 * time.Second
)

// Client is one sealed command channel to an agent. Requests are
// half-duplex: RoundTrip holds the channel until the response arrives.
type Client struct {
	addr        string
	fingerprint string
	ch          *protocol.Channel

	// Timeout bounds a RoundTrip when ctx carries no earlier deadline.
	Timeout time.Duration

	mu     sync.Mutex
	broken error
}

// Dial connects to addr, wraps the socket in TLS when tlsConf is set and
// runs the key handshake.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (*Client, error) {
	dialer := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", protocol.ErrConnectionLost, addr, err)
	}

	deadline := time.Now().Add(DefaultDialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	if tlsConf != nil {
		tc := tls.Client(conn, tlsConfigFor(tlsConf, addr))
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			var verr *tls.CertificateVerificationError
			if errors.As(err, &verr) {
				return nil, fmt.Errorf("%w: tls %s: %v", protocol.ErrAuthentication, addr, err)
			}
			return nil, fmt.Errorf("%w: tls %s: %v", protocol.ErrConnectionLost, addr, err)
		}
		conn = tc
	}

	ch, fp, err := security.Open(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	return &Client{addr: addr, fingerprint: fp, ch: ch, Timeout: DefaultRequestTimeout}, nil
}

// tlsConfigFor fills in ServerName from addr when the config has none.
func tlsConfigFor(base *tls.Config, addr string) *tls.Config {
	if base.ServerName != "" {
		return base
	}
	cfg := base.Clone()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		cfg.ServerName = host
	}
	return cfg
}

// Addr returns the address the client dialled.
func (c *Client) Addr() string { return c.addr }

// Fingerprint identifies the agent identity that signed the session key.
func (c *Client) Fingerprint() string { return c.fingerprint }

// LocalAddr returns the console-side address of the channel.
func (c *Client) LocalAddr() net.Addr { return c.ch.LocalAddr() }

// RoundTrip sends cmd and waits for its response. Any transport or
// protocol failure leaves the stream unusable, so the client is closed
// and every later call fails fast.
func (c *Client) RoundTrip(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return protocol.Response{}, c.broken
	}

	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ch.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { c.ch.SetDeadline(time.Now()) })
	defer stop()

	resp, err := c.roundTrip(cmd)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", protocol.ErrConnectionLost, ctx.Err())
		}
		c.broken = err
		c.ch.Close()
		return protocol.Response{}, err
	}
	c.ch.SetDeadline(time.Time{})
	return resp, nil
}

func (c *Client) roundTrip(cmd protocol.Command) (protocol.Response, error) {
	if err := c.ch.SendCommand(cmd); err != nil {
		return protocol.Response{}, err
	}
	return c.ch.ReceiveResponse()
}

// Call runs cmd and decodes a successful response into out. A remote
// error response is returned as an error.
func (c *Client) Call(ctx context.Context, cmdType string, data map[string]any, out any) error {
	resp, err := c.RoundTrip(ctx, protocol.Command{Type: cmdType, Data: data})
	if err != nil {
		return err
	}
	return resp.Bind(out)
}

// Close closes the channel.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken == nil {
		c.broken = fmt.Errorf("%w: client closed", protocol.ErrConnectionLost)
	}
	return c.ch.Close()
}
