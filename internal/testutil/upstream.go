package testutil

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/standardbeagle/wincc-debug-proxy/internal/config"
	"github.com/standardbeagle/wincc-debug-proxy/internal/target"
)

// FakeUpstream imitates a WinCC Unified CDP endpoint: /json, /json/version
// and a websocket per target path.
type FakeUpstream struct {
	Server *httptest.Server

	mu          sync.Mutex
	targets     []target.DebugTarget
	rawCatalog  string
	versionBody string
	versionCode int
	conns       []*UpstreamConn
	accepted    chan *UpstreamConn
	onMessage   func(c *UpstreamConn, msg []byte)

	upgrader websocket.Upgrader
}

// UpstreamConn is one websocket accepted by the fake
type UpstreamConn struct {
	Path string

	received chan []byte
	conn     *websocket.Conn
	mu       sync.Mutex
	done     chan struct{}
}

// NewFakeUpstream starts a fake endpoint; it is closed with the test
func NewFakeUpstream(t *testing.T) *FakeUpstream {
	t.Helper()

	f := &FakeUpstream{
		versionBody: `{"Browser":"node.js/v18","Protocol-Version":"1.3"}`,
		versionCode: http.StatusOK,
		accepted:    make(chan *UpstreamConn, 32),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// Host returns the listening host
func (f *FakeUpstream) Host() string {
	host, _, _ := net.SplitHostPort(f.Server.Listener.Addr().String())
	return host
}

// Port returns the listening port
func (f *FakeUpstream) Port() int {
	_, port, _ := net.SplitHostPort(f.Server.Listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Config returns a proxy configuration pointing at the fake
func (f *FakeUpstream) Config(dynamicsPort, eventsPort int) config.Config {
	cfg := config.Default()
	cfg.TargetHost = f.Host()
	cfg.TargetPort = f.Port()
	cfg.DynamicsPort = dynamicsPort
	cfg.EventsPort = eventsPort
	return cfg
}

// Target builds a catalog entry whose websocket URL points at this fake
func (f *FakeUpstream) Target(title, path string) target.DebugTarget {
	return target.DebugTarget{
		Description:          "node.js instance",
		ID:                   path,
		Title:                title,
		Type:                 "node",
		URL:                  "file://",
		WebSocketDebuggerURL: "ws://" + f.Server.Listener.Addr().String() + "/" + path,
	}
}

// SetTargets replaces the catalog served on /json
func (f *FakeUpstream) SetTargets(targets ...target.DebugTarget) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = targets
	f.rawCatalog = ""
}

// SetRawCatalog serves body verbatim on /json
func (f *FakeUpstream) SetRawCatalog(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawCatalog = body
}

// SetVersion configures the /json/version response
func (f *FakeUpstream) SetVersion(code int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versionCode = code
	f.versionBody = body
}

// SetOnMessage installs a handler for every frame the proxy sends upstream
// on connections accepted afterwards. Without one, frames are queued on
// conn.Received().
func (f *FakeUpstream) SetOnMessage(fn func(c *UpstreamConn, msg []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = fn
}

// Accepted delivers every websocket connection the fake accepts
func (f *FakeUpstream) Accepted() <-chan *UpstreamConn {
	return f.accepted
}

// Close drops all websocket connections and stops the server
func (f *FakeUpstream) Close() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	f.Server.Close()
}

func (f *FakeUpstream) serve(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/json", "/json/list":
		f.mu.Lock()
		raw, targets := f.rawCatalog, f.targets
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if raw != "" {
			w.Write([]byte(raw))
			return
		}
		if targets == nil {
			targets = []target.DebugTarget{}
		}
		json.NewEncoder(w).Encode(targets)
	case "/json/version":
		f.mu.Lock()
		code, body := f.versionCode, f.versionBody
		f.mu.Unlock()

		w.WriteHeader(code)
		w.Write([]byte(body))
	default:
		f.serveWebSocket(w, r)
	}
}

func (f *FakeUpstream) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &UpstreamConn{
		Path:     strings.TrimPrefix(r.URL.Path, "/"),
		received: make(chan []byte, 256),
		conn:     ws,
		done:     make(chan struct{}),
	}

	f.mu.Lock()
	f.conns = append(f.conns, c)
	handler := f.onMessage
	f.mu.Unlock()

	select {
	case f.accepted <- c:
	default:
	}

	defer close(c.done)
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if handler != nil {
			handler(c, msg)
			continue
		}
		select {
		case c.received <- msg:
		default:
		}
	}
}

// Received delivers frames the proxy sent when no handler is installed
func (c *UpstreamConn) Received() <-chan []byte {
	return c.received
}

// Send writes a text frame to the proxy
func (c *UpstreamConn) Send(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Close closes the connection from the upstream side
func (c *UpstreamConn) Close() error {
	return c.conn.Close()
}

// Done is closed when the proxy side of the connection went away
func (c *UpstreamConn) Done() <-chan struct{} {
	return c.done
}
