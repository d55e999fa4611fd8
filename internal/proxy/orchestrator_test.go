package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/wincc-debug-proxy/internal/config"
	"github.com/standardbeagle/wincc-debug-proxy/internal/target"
	"github.com/standardbeagle/wincc-debug-proxy/internal/testutil"
	"github.com/standardbeagle/wincc-debug-proxy/internal/upstream"
	"github.com/standardbeagle/wincc-debug-proxy/pkg/events"
	"github.com/standardbeagle/wincc-debug-proxy/pkg/ports"
)

const (
	dynamicsTitle = "WinCC Unified RT Dynamics"
	eventsTitle   = "WinCC Unified RT Events"
)

func TestPollDiscoversAndRestartsOnce(t *testing.T) {
	h := newHarness(t)
	h.startListeners()

	h.fake.SetTargets(
		h.fake.Target(dynamicsTitle+" VCS_3", "dyn-3"),
		h.fake.Target(eventsTitle+" VCS_5", "evt-5"),
	)
	h.orch.Poll(h.ctx)

	dyn := h.orch.State().Snapshot(target.Dynamics)
	evt := h.orch.State().Snapshot(target.Events)
	assert.Equal(t, SlotSnapshot{Path: "dyn-3", HasPath: true, Highest: 3}, dyn)
	assert.Equal(t, SlotSnapshot{Path: "evt-5", HasPath: true, Highest: 5}, evt)
	assert.True(t, h.orch.State().Available())

	testutil.RequireEventually(t, time.Second, func() bool {
		return h.log.count(events.TargetDiscovered, "Dynamics") == 1 &&
			h.log.count(events.TargetDiscovered, "Events") == 1
	}, "initial discovery events")
	assert.Zero(t, h.log.count(events.ListenerDraining, "Dynamics"))

	// Dynamics moves to a new target; Events stays put.
	h.fake.SetTargets(
		h.fake.Target(dynamicsTitle+" VCS_4", "dyn-4"),
		h.fake.Target(eventsTitle+" VCS_5", "evt-5"),
	)
	h.orch.Poll(h.ctx)

	dyn = h.orch.State().Snapshot(target.Dynamics)
	assert.Equal(t, "dyn-4", dyn.Path)
	assert.Equal(t, uint32(4), dyn.Highest)
	assert.Equal(t, "evt-5", h.orch.State().Snapshot(target.Events).Path)

	// Same catalog again is a no-op.
	h.orch.Poll(h.ctx)

	testutil.RequireEventually(t, time.Second, func() bool {
		return h.log.count(events.ListenerRestarted, "Dynamics") == 1
	}, "dynamics restarted")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, h.log.count(events.TargetChanged, "Dynamics"))
	assert.Equal(t, 1, h.log.count(events.ListenerDraining, "Dynamics"))
	assert.Equal(t, 1, h.log.count(events.ListenerStopped, "Dynamics"))
	assert.Zero(t, h.log.count(events.TargetChanged, "Events"))
	assert.Zero(t, h.log.count(events.ListenerDraining, "Events"))

	// The restarted listener serves on the same port.
	code, _ := httpGet(t, h.localURL(target.Dynamics, "/json/version"))
	assert.Equal(t, http.StatusOK, code)
}

func TestPollRatchetIgnoresOlderVersion(t *testing.T) {
	h := newHarness(t)
	h.startListeners()

	h.fake.SetTargets(h.fake.Target(dynamicsTitle+" VCS_7", "dyn-7"))
	h.orch.Poll(h.ctx)
	require.Equal(t, uint32(7), h.orch.State().Snapshot(target.Dynamics).Highest)

	// A lower version with a different path still wins the selection when it
	// is the only candidate, but the ratchet keeps the highest seen.
	h.fake.SetTargets(h.fake.Target(dynamicsTitle+" VCS_2", "dyn-2"))
	h.orch.Poll(h.ctx)

	snap := h.orch.State().Snapshot(target.Dynamics)
	assert.Equal(t, uint32(7), snap.Highest)
	assert.Equal(t, "dyn-2", snap.Path)
}

func TestPollBothChangedRestartSequentially(t *testing.T) {
	h := newHarness(t)
	h.startListeners()

	h.fake.SetTargets(
		h.fake.Target(dynamicsTitle+" VCS_1", "dyn-1"),
		h.fake.Target(eventsTitle+" VCS_1", "evt-1"),
	)
	h.orch.Poll(h.ctx)

	h.fake.SetTargets(
		h.fake.Target(dynamicsTitle+" VCS_2", "dyn-2"),
		h.fake.Target(eventsTitle+" VCS_2", "evt-2"),
	)
	h.orch.Poll(h.ctx)

	testutil.RequireEventually(t, time.Second, func() bool {
		return h.log.count(events.ListenerRestarted, "Events") == 1
	}, "events restarted")

	var lifecycle []string
	for _, e := range h.log.ordered() {
		switch e.Type {
		case events.TargetChanged, events.ListenerDraining, events.ListenerStopped, events.ListenerRestarted:
			lifecycle = append(lifecycle, e.Category+" "+string(e.Type))
		}
	}
	assert.Equal(t, []string{
		"Dynamics target.changed",
		"Dynamics listener.draining",
		"Dynamics listener.stopped",
		"Dynamics listener.restarted",
		"Events target.changed",
		"Events listener.draining",
		"Events listener.stopped",
		"Events listener.restarted",
	}, lifecycle)

	assert.Equal(t, 1, h.messages("Both targets changed"))
}

func TestPollNoUsableTarget(t *testing.T) {
	h := newHarness(t)
	h.startListeners()

	h.fake.SetTargets(h.fake.Target("Some other node process", "other"))
	h.orch.Poll(h.ctx)

	for _, c := range target.Categories {
		snap := h.orch.State().Snapshot(c)
		assert.False(t, snap.HasPath, c.String())
		assert.Zero(t, snap.Highest)
	}
}

func TestPollFailureReporting(t *testing.T) {
	p, err := ports.Ephemeral("127.0.0.1", 1)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.TargetHost = "127.0.0.1"
	cfg.TargetPort = p[0]

	logger, hook := test.NewNullLogger()
	orch := NewOrchestrator(cfg, upstream.NewClient(cfg, logger), nil, nil, logger)

	for i := 0; i < 11; i++ {
		orch.Poll(context.Background())
	}
	assert.Equal(t, 11, orch.State().Failures())
	assert.False(t, orch.State().Available())

	count := func(prefix string) int {
		n := 0
		for _, e := range hook.AllEntries() {
			if len(e.Message) >= len(prefix) && e.Message[:len(prefix)] == prefix {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, count("Cannot connect to WinCC"))
	assert.Equal(t, 2, count("Still cannot connect to WinCC"), "reported at 5 and 10")
}

func TestPollRecoversAfterFailure(t *testing.T) {
	h := newHarness(t)

	h.fake.SetRawCatalog("not json")
	h.orch.Poll(h.ctx)
	assert.Equal(t, 1, h.orch.State().Failures())

	h.fake.SetTargets(h.fake.Target(eventsTitle+" VCS_1", "evt-1"))
	h.orch.Poll(h.ctx)
	assert.Zero(t, h.orch.State().Failures())
	assert.Equal(t, 1, h.messages("back online"))
	assert.Equal(t, 1, h.messages("target server connected"))
}

func TestListenerJSONEndpoints(t *testing.T) {
	h := newHarness(t)
	h.startListeners()

	h.fake.SetTargets(
		h.fake.Target(dynamicsTitle+" VCS_3", "dyn-3"),
		h.fake.Target(eventsTitle+" VCS_5", "evt-5"),
		h.fake.Target("lowercase dynamics title", "dyn-lower"),
	)

	for _, p := range []string{"/json", "/json/list"} {
		code, body := httpGet(t, h.localURL(target.Dynamics, p))
		require.Equal(t, http.StatusOK, code)

		var got []target.DebugTarget
		require.NoError(t, json.Unmarshal(body, &got))
		require.Len(t, got, 1, "filter matches the category name verbatim")
		assert.Equal(t, dynamicsTitle+" VCS_3", got[0].Title)
		assert.Equal(t, "ws://localhost:"+strconv.Itoa(h.cfg.DynamicsPort), got[0].WebSocketDebuggerURL)
	}

	code, body := httpGet(t, h.localURL(target.Events, "/json/version"))
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"Browser":"node.js/v18","Protocol-Version":"1.3"}`, string(body))

	h.fake.SetVersion(http.StatusInternalServerError, "boom")
	_, body = httpGet(t, h.localURL(target.Events, "/json/version"))
	assert.Equal(t, FallbackVersion, string(body))

	h.fake.SetRawCatalog("<html>")
	_, body = httpGet(t, h.localURL(target.Events, "/json"))
	assert.JSONEq(t, `[]`, string(body))
}

func TestStartListenerBindError(t *testing.T) {
	h := newHarness(t)

	busy, err := net.Listen("tcp", net.JoinHostPort(BindHost, strconv.Itoa(h.cfg.DynamicsPort)))
	require.NoError(t, err)
	defer busy.Close()

	err = h.orch.StartListener(h.ctx, target.Dynamics)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrListenerBind))

	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Equal(t, target.Dynamics, bindErr.Category)

	require.NoError(t, h.orch.StartListener(h.ctx, target.Events), "the other category still starts")
}

func TestRunFailsWhenNoListenerBinds(t *testing.T) {
	h := newHarness(t)

	var held []net.Listener
	for _, c := range target.Categories {
		l, err := net.Listen("tcp", net.JoinHostPort(BindHost, strconv.Itoa(h.cfg.Port(c))))
		require.NoError(t, err)
		held = append(held, l)
	}
	defer func() {
		for _, l := range held {
			l.Close()
		}
	}()

	err := h.orch.Run(h.ctx)
	assert.True(t, errors.Is(err, ErrListenerBind))
}

func TestRunLifecycle(t *testing.T) {
	h := newHarness(t)
	h.fake.SetTargets(
		h.fake.Target(dynamicsTitle+" VCS_1", "dyn-1"),
		h.fake.Target(eventsTitle+" VCS_1", "evt-1"),
	)

	ctx, cancel := context.WithCancel(h.ctx)
	runErr := make(chan error, 1)
	go func() { runErr <- h.orch.Run(ctx) }()

	testutil.RequireEventually(t, 2*time.Second, func() bool {
		return h.orch.State().Snapshot(target.Events).HasPath
	}, "run loop discovers targets")

	h.fake.SetTargets(
		h.fake.Target(dynamicsTitle+" VCS_1", "dyn-1"),
		h.fake.Target(eventsTitle+" VCS_2", "evt-2"),
	)
	testutil.RequireEventually(t, 2*time.Second, func() bool {
		return h.orch.State().Snapshot(target.Events).Path == "evt-2"
	}, "poll loop follows the change")

	cancel()
	err := testutil.Receive[error](t, runErr, 5*time.Second, "run returns")
	assert.NoError(t, err)

	for _, c := range target.Categories {
		assert.True(t, ports.IsPortAvailable(BindHost, h.cfg.Port(c)), "%s port released", c)
	}
}
