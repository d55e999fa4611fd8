package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/wincc-debug-proxy/internal/logging"
	"github.com/standardbeagle/wincc-debug-proxy/internal/target"
	"github.com/standardbeagle/wincc-debug-proxy/internal/upstream"
	"github.com/standardbeagle/wincc-debug-proxy/pkg/events"
)

// BindHost is the only interface the proxy listens on
const BindHost = "127.0.0.1"

// FallbackVersion answers /json/version while the runtime is unreachable
const FallbackVersion = `{"Browser":"WinCC-Proxy/1.0","Protocol-Version":"1.3"}`

const shutdownTimeout = 2 * time.Second

// Listener serves one category port for one generation. It is single use:
// a restart stops it and starts a fresh one on the same port.
type Listener struct {
	category target.Category
	port     int
	state    *State
	upstream *upstream.Client
	relay    *Relay
	bus      *events.EventBus
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	started  bool
	closing  bool
	ln       net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
	sessions sync.WaitGroup
}

// NewListener prepares a listener; nothing is bound until Start
func NewListener(category target.Category, port int, state *State, relay *Relay, bus *events.EventBus, log logrus.FieldLogger) *Listener {
	return &Listener{
		category: category,
		port:     port,
		state:    state,
		upstream: relay.Upstream,
		relay:    relay,
		bus:      bus,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
}

// Addr returns the bound address, or the configured one before Start
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr().String()
	}
	return net.JoinHostPort(BindHost, strconv.Itoa(l.port))
}

// Start binds the port and begins serving. It returns once the socket is
// bound, so a nil error means clients can connect.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return errors.New("listener already started")
	}

	addr := net.JoinHostPort(BindHost, strconv.Itoa(l.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Category: l.category, Addr: addr, Err: err}
	}

	lctx, cancel := context.WithCancel(ctx)
	l.ln = ln
	l.cancel = cancel
	l.started = true

	srv := &http.Server{
		Handler:           l.router(lctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go l.serve(lctx, srv, ln)
	return nil
}

func (l *Listener) serve(ctx context.Context, srv *http.Server, ln net.Listener) {
	defer close(l.done)

	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Errorf("%s proxy server error: %v", l.category, err)
		}
	}()

	select {
	case <-ctx.Done():
	case <-serveDone:
	}

	l.mu.Lock()
	l.closing = true
	l.cancel()
	l.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
	}
	cancel()
	<-serveDone

	// Hijacked websocket sessions are invisible to Shutdown; they end on
	// the cancelled context.
	l.sessions.Wait()
	logging.Success(l.log, "%s proxy server stopped", l.category)
}

// Stop asks the listener to shut down; use Done to wait for it
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

// Done is closed once the server and all of its relay sessions exited
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) router(ctx context.Context) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/json", l.handleList).Methods(http.MethodGet)
	r.HandleFunc("/json/list", l.handleList).Methods(http.MethodGet)
	r.HandleFunc("/json/version", l.handleVersion).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		l.handleWebSocket(ctx, w, req)
	})
	return r
}

// handleList serves the live catalog filtered to this category, pointing
// every entry at the local port.
func (l *Listener) handleList(w http.ResponseWriter, r *http.Request) {
	filtered := []target.DebugTarget{}

	targets, err := l.upstream.FetchTargets(r.Context())
	if err != nil {
		l.log.Debugf("[HTTP Proxy] Target unavailable for /json: %v", err)
	}
	for _, t := range targets {
		if !strings.Contains(t.Title, l.category.String()) {
			continue
		}
		t.WebSocketDebuggerURL = "ws://localhost:" + strconv.Itoa(l.port)
		filtered = append(filtered, t)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(filtered)
}

func (l *Listener) handleVersion(w http.ResponseWriter, r *http.Request) {
	body, err := l.upstream.FetchVersion(r.Context())
	if err != nil {
		l.log.Debugf("[HTTP Proxy] Target unavailable for /json/version: %v", err)
		body = []byte(FallbackVersion)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (l *Listener) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.NotFound(w, r)
		return
	}

	path, ok, disconnect := l.state.session(l.category)
	if !ok {
		l.log.Errorf("[%s] Client refused: %v", l.category, ErrNoTarget)
		http.Error(w, ErrNoTarget.Error(), http.StatusServiceUnavailable)
		return
	}

	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		http.Error(w, "proxy restarting", http.StatusServiceUnavailable)
		return
	}
	l.sessions.Add(1)
	l.mu.Unlock()
	defer l.sessions.Done()

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Debugf("[%s] websocket upgrade failed: %v", l.category, err)
		return
	}

	if _, err := l.relay.Serve(ctx, conn, path, disconnect); err != nil {
		l.log.Debugf("[%s] relay ended: %v", l.category, err)
	}
}
