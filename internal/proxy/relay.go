package proxy

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/wincc-debug-proxy/internal/cdp"
	"github.com/standardbeagle/wincc-debug-proxy/internal/dump"
	"github.com/standardbeagle/wincc-debug-proxy/internal/logging"
	"github.com/standardbeagle/wincc-debug-proxy/internal/target"
	"github.com/standardbeagle/wincc-debug-proxy/internal/upstream"
	"github.com/standardbeagle/wincc-debug-proxy/pkg/events"
)

// HandshakeTimeout bounds the upstream websocket handshake
const HandshakeTimeout = 10 * time.Second

const closeWriteTimeout = time.Second

// Cause says why a relay session ended
type Cause int

const (
	CauseNone Cause = iota
	CauseClientClosed
	CauseUpstreamClosed
	CauseTargetChanged
	CauseShutdown
)

func (c Cause) String() string {
	switch c {
	case CauseClientClosed:
		return "client closed"
	case CauseUpstreamClosed:
		return "target closed"
	case CauseTargetChanged:
		return "target changed"
	case CauseShutdown:
		return "proxy shutting down"
	default:
		return "none"
	}
}

// Relay pipes one debugger client to the upstream target of its category
type Relay struct {
	Category  target.Category
	Upstream  *upstream.Client
	LongPaths bool
	Store     *dump.Store
	Bus       *events.EventBus
	Log       logrus.FieldLogger

	dialer *websocket.Dialer
}

// NewRelay creates the relay used by one listener generation
func NewRelay(category target.Category, up *upstream.Client, longPaths bool, store *dump.Store, bus *events.EventBus, log logrus.FieldLogger) *Relay {
	return &Relay{
		Category:  category,
		Upstream:  up,
		LongPaths: longPaths,
		Store:     store,
		Bus:       bus,
		Log:       log,
		dialer: &websocket.Dialer{
			HandshakeTimeout: HandshakeTimeout,
			Proxy:            nil,
		},
	}
}

func newClientID() string {
	return uuid.NewString()[:8]
}

// DecodePath makes a percent-encoded target path readable for logs
func DecodePath(p string) string {
	if d, err := url.PathUnescape(p); err == nil {
		return d
	}
	return p
}

// Serve relays between conn and the upstream target at path until the client
// leaves, the target leaves, disconnect is closed or ctx ends. It always
// closes conn and returns only after both forwarding goroutines exited.
func (r *Relay) Serve(ctx context.Context, conn *websocket.Conn, path string, disconnect <-chan struct{}) (Cause, error) {
	id := newClientID()
	prefix := fmt.Sprintf("[%s] Client #%s", r.Category, id)
	log := r.Log.WithField("client", id)

	logging.Success(log, "%s connected", prefix)
	r.Bus.Emit(events.ClientConnected, r.Category.String(), map[string]interface{}{"client": id, "path": path})

	log.Infof("%s: Connecting to target: %s", prefix, DecodePath(path))
	up, resp, err := r.dialer.DialContext(ctx, r.Upstream.WebSocketURL(path), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		log.Errorf("%s: Failed to connect to target: %v", prefix, err)
		conn.Close()
		r.Bus.Emit(events.ClientDisconnected, r.Category.String(), map[string]interface{}{"client": id, "error": err.Error()})
		return CauseNone, fmt.Errorf("%w: dial %s: %v", ErrRelay, DecodePath(path), err)
	}
	logging.Tagged(log, logging.TagConn).Infof("%s: Connected to target", prefix)

	interceptor := cdp.NewInterceptor(cdp.Options{
		Category:  r.Category,
		LongPaths: r.LongPaths,
		Store:     r.Store,
		Log:       log,
	})

	var upMu sync.Mutex
	writeUpstream := func(messageType int, data []byte) error {
		upMu.Lock()
		defer upMu.Unlock()
		return up.WriteMessage(messageType, data)
	}

	clientDone := make(chan struct{})
	upstreamDone := make(chan struct{})

	go func() {
		defer close(clientDone)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			log.Tracef("%s: Client -> Target (%d bytes)", prefix, len(data))
			if err := writeUpstream(mt, data); err != nil {
				return
			}
		}
	}()

	go func() {
		defer close(upstreamDone)
		for {
			mt, data, err := up.ReadMessage()
			if err != nil {
				return
			}
			log.Tracef("%s: Target -> Client (%d bytes)", prefix, len(data))

			if mt == websocket.TextMessage {
				out := interceptor.Handle(data)
				if out.ToUpstream != nil {
					if err := writeUpstream(websocket.TextMessage, out.ToUpstream); err != nil {
						return
					}
				}
				if !out.Forward {
					continue
				}
				data = out.ToClient
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}()

	var cause Cause
	select {
	case <-clientDone:
		cause = CauseClientClosed
	case <-upstreamDone:
		cause = CauseUpstreamClosed
	case <-disconnect:
		cause = CauseTargetChanged
	case <-ctx.Done():
		cause = CauseShutdown
	}

	if cause == CauseTargetChanged || cause == CauseShutdown {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, cause.String())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	}

	// Closing both sockets unblocks whichever reader is still waiting.
	conn.Close()
	up.Close()
	<-clientDone
	<-upstreamDone

	switch cause {
	case CauseTargetChanged, CauseShutdown:
		logging.Tagged(log, logging.TagStop).Infof("%s: Closing due to %s", prefix, cause)
	default:
		logging.Tagged(log, logging.TagDisc).Infof("%s disconnected (%s)", prefix, cause)
	}
	if n := interceptor.Dumped(); n > 0 {
		log.Infof("%s: Dumped %d scripts", prefix, n)
	}

	r.Bus.Emit(events.ClientDisconnected, r.Category.String(), map[string]interface{}{"client": id, "cause": cause.String()})
	return cause, nil
}
