package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/wincc-debug-proxy/internal/config"
	"github.com/standardbeagle/wincc-debug-proxy/internal/target"
)

const (
	// ConnectTimeout bounds establishing a TCP connection to the endpoint
	ConnectTimeout = 5 * time.Second
	// RequestTimeout bounds a whole discovery request including the body
	RequestTimeout = 10 * time.Second
)

// Client talks to the upstream CDP HTTP endpoints
type Client struct {
	addr string
	http *http.Client
	log  logrus.FieldLogger
}

// NewClient creates a client for the debug endpoint named in cfg
func NewClient(cfg config.Config, log logrus.FieldLogger) *Client {
	dialer := &net.Dialer{Timeout: ConnectTimeout}
	transport := &http.Transport{
		Proxy:               nil,
		DialContext:         dialer.DialContext,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}

	return &Client{
		addr: cfg.TargetAddr(),
		http: &http.Client{
			Transport: transport,
			Timeout:   RequestTimeout,
		},
		log: log,
	}
}

// Addr returns host:port of the endpoint
func (c *Client) Addr() string {
	return c.addr
}

// WebSocketURL returns the upstream websocket URL for a target path token
func (c *Client) WebSocketURL(path string) string {
	return fmt.Sprintf("ws://%s/%s", c.addr, path)
}

func (c *Client) url(p string) string {
	return fmt.Sprintf("http://%s%s", c.addr, p)
}

// FetchTargets performs one discovery request against /json
func (c *Client) FetchTargets(ctx context.Context) ([]target.DebugTarget, error) {
	const op = "fetch targets"
	u := c.url("/json")
	c.log.Debugf("Fetching targets from %s", u)

	body, err := c.get(ctx, op, u)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var targets []target.DebugTarget
	if err := json.NewDecoder(body).Decode(&targets); err != nil {
		return nil, classify(op, u, err, ErrProtocol)
	}

	c.log.Debugf("Received %d debug targets", len(targets))
	return targets, nil
}

// FetchVersion returns the raw /json/version document
func (c *Client) FetchVersion(ctx context.Context) ([]byte, error) {
	const op = "fetch version"
	u := c.url("/json/version")

	body, err := c.get(ctx, op, u)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, classify(op, u, err, ErrProtocol)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, op, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &Error{Kind: ErrUnreachable, Op: op, URL: u, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrUnreachable, Op: op, URL: u, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &Error{Kind: ErrProtocol, Op: op, URL: u, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return resp.Body, nil
}

// classify keeps timeouts that surface while reading a body as unreachable
func classify(op, u string, err error, fallback error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: ErrUnreachable, Op: op, URL: u, Err: err}
	}
	return &Error{Kind: fallback, Op: op, URL: u, Err: err}
}

// Probe opens and immediately closes a raw TCP connection to the endpoint
func (c *Client) Probe(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return &Error{Kind: ErrUnreachable, Op: "connect", URL: c.addr, Err: err}
	}
	return conn.Close()
}
