package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/wincc-debug-proxy/internal/config"
	"github.com/standardbeagle/wincc-debug-proxy/internal/dump"
	"github.com/standardbeagle/wincc-debug-proxy/internal/logging"
	"github.com/standardbeagle/wincc-debug-proxy/internal/target"
	"github.com/standardbeagle/wincc-debug-proxy/internal/upstream"
	"github.com/standardbeagle/wincc-debug-proxy/pkg/events"
)

// stillFailingEvery is how often a continuing outage is reported again
const stillFailingEvery = 5

// stopTimeout bounds waiting for listeners when the process exits
const stopTimeout = 5 * time.Second

// Orchestrator owns the poll loop and the per-category listener lifecycle
type Orchestrator struct {
	cfg      config.Config
	state    *State
	upstream *upstream.Client
	store    *dump.Store
	bus      *events.EventBus
	log      logrus.FieldLogger

	// Out receives the startup banner
	Out io.Writer
}

// NewOrchestrator wires the components for one proxy process. store and bus
// may be nil.
func NewOrchestrator(cfg config.Config, up *upstream.Client, store *dump.Store, bus *events.EventBus, log logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		state:    NewState(),
		upstream: up,
		store:    store,
		bus:      bus,
		log:      log,
		Out:      os.Stdout,
	}
}

// State exposes the shared slot state
func (o *Orchestrator) State() *State {
	return o.state
}

// StartListener binds and serves a fresh listener for category. It returns
// once the port accepts connections.
func (o *Orchestrator) StartListener(ctx context.Context, c target.Category) error {
	relay := NewRelay(c, o.upstream, o.cfg.LongPaths, o.store, o.bus, o.log)
	l := NewListener(c, o.cfg.Port(c), o.state, relay, o.bus, o.log)
	if err := l.Start(ctx); err != nil {
		return err
	}

	o.state.setListener(c, l)
	logging.Success(o.log, "%s proxy ready on port %d", c, o.cfg.Port(c))
	o.bus.Emit(events.ListenerStarted, c.String(), map[string]interface{}{"port": o.cfg.Port(c)})
	return nil
}

// StopListener stops the category listener and waits until it is gone
func (o *Orchestrator) StopListener(ctx context.Context, c target.Category) error {
	l := o.state.takeListener(c)
	if l == nil {
		return nil
	}

	o.log.Infof("   Stopping %s proxy server...", c)
	l.Stop()

	o.log.Infof("   Waiting for %s server shutdown...", c)
	select {
	case <-l.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s listener: %w", c, ctx.Err())
	}
}

// Restart moves a category to a new target path: drain clients, stop the
// listener, record the path, start a new listener on the same port.
func (o *Orchestrator) Restart(ctx context.Context, c target.Category, oldPath, newPath string) error {
	logging.Tagged(o.log, logging.TagChange).Infof("%s target changed:", c)
	o.log.Infof("   Old: %s", DecodePath(oldPath))
	o.log.Infof("   New: %s", DecodePath(newPath))
	o.bus.Emit(events.TargetChanged, c.String(), map[string]interface{}{"old": oldPath, "new": newPath})

	// Draining
	o.bus.Emit(events.ListenerDraining, c.String(), nil)
	if o.store != nil {
		if err := o.store.Clean(c); err != nil {
			o.log.Warnf("Could not clean dumped %s scripts: %v", c, err)
		} else {
			o.log.Infof("   Cleaned %s/%s/", o.store.Dir(), c)
		}
	}

	logging.Tagged(o.log, logging.TagStop).Infof("Closing all %s client connections...", c)
	if o.state.broadcastDisconnect(c) {
		o.log.Infof("   Sent disconnect signal to all %s clients", c)
	}

	settle := time.NewTimer(o.cfg.Settle())
	select {
	case <-settle.C:
	case <-ctx.Done():
		settle.Stop()
		return ctx.Err()
	}

	// Stopped
	if err := o.StopListener(ctx, c); err != nil {
		return err
	}
	o.bus.Emit(events.ListenerStopped, c.String(), nil)

	// Active
	o.state.activate(c, newPath)
	o.log.Infof("   Restarting %s proxy server...", c)
	if err := o.StartListener(ctx, c); err != nil {
		return fmt.Errorf("restart %s listener: %w", c, err)
	}
	o.bus.Emit(events.ListenerRestarted, c.String(), map[string]interface{}{"path": newPath})
	return nil
}

type pendingRestart struct {
	category target.Category
	oldPath  string
	newPath  string
}

// Poll runs one discovery cycle. Failures are reported and absorbed.
func (o *Orchestrator) Poll(ctx context.Context) {
	o.log.Debug("--- Target Update Cycle ---")

	targets, err := o.upstream.FetchTargets(ctx)
	if err != nil {
		if ctx.Err() == nil {
			o.recordFailure(err)
		}
		o.log.Debug("--- End Target Update (failed) ---")
		return
	}
	o.recordSuccess()

	candidates := target.Partition(targets)

	o.state.mu.RLock()
	highest := make(map[target.Category]uint32, len(target.Categories))
	for _, c := range target.Categories {
		highest[c] = o.state.slots[c].highest
	}
	o.state.mu.RUnlock()

	type selected struct {
		sel target.Selection
		ok  bool
	}
	selections := make(map[target.Category]selected, len(target.Categories))
	for _, c := range target.Categories {
		sel, ok := target.Select(candidates[c], highest[c])
		selections[c] = selected{sel, ok}
	}

	var discovered []target.Change
	var discoveredIn []target.Category
	var restarts []pendingRestart

	o.state.mu.Lock()
	for _, c := range target.Categories {
		sl := o.state.slots[c]
		s := selections[c]
		change := target.Detect(s.sel, s.ok, sl.path, sl.hasPath, c, len(candidates[c]), o.log)
		o.state.apply(c, change)

		switch change.Kind {
		case target.Initial:
			discovered = append(discovered, change)
			discoveredIn = append(discoveredIn, c)
		case target.Changed:
			restarts = append(restarts, pendingRestart{c, change.OldPath, change.NewPath})
		}
	}
	o.state.mu.Unlock()

	for i, change := range discovered {
		c := discoveredIn[i]
		logging.Tagged(o.log, logging.TagConn).Infof("%s target discovered: %s", c, DecodePath(change.NewPath))
		o.bus.Emit(events.TargetDiscovered, c.String(), map[string]interface{}{
			"path":    change.NewPath,
			"version": change.Version,
		})
	}

	if len(restarts) > 1 {
		logging.Tagged(o.log, logging.TagChange).Info("Both targets changed - restarting sequentially")
	}
	for _, r := range restarts {
		if err := o.Restart(ctx, r.category, r.oldPath, r.newPath); err != nil {
			o.log.Errorf("%s restart failed: %v", r.category, err)
		}
	}

	o.log.Debug("--- End Target Update ---")
}

func (o *Orchestrator) recordSuccess() {
	o.state.mu.Lock()
	recovered := o.state.failures > 0
	o.state.failures = 0
	first := !o.state.available
	o.state.available = true
	o.state.mu.Unlock()

	if recovered {
		logging.Success(o.log, "Target server is back online!")
	}
	if first {
		logging.Tagged(o.log, logging.TagConn).Infof("WinCC target server connected at %s", o.upstream.Addr())
	}
}

func (o *Orchestrator) recordFailure(err error) {
	o.state.mu.Lock()
	o.state.failures++
	n := o.state.failures
	o.state.available = false
	o.state.mu.Unlock()

	switch {
	case n == 1:
		o.log.Errorf("Cannot connect to WinCC at %s", o.upstream.Addr())
		o.log.Errorf("   Reason: %v", err)
		o.log.Infof("Will retry every %s...", o.cfg.PollInterval)
		o.bus.Emit(events.TargetUnavailable, "", map[string]interface{}{"error": err.Error()})
	case n%stillFailingEvery == 0:
		o.log.Infof("Still cannot connect to WinCC (%d failed attempts, retrying every %s)", n, o.cfg.PollInterval)
	}
}

// Run is the whole proxy lifetime: start both listeners, wait for the
// runtime, then poll until ctx is cancelled. It fails only when no listener
// could be bound.
func (o *Orchestrator) Run(ctx context.Context) error {
	logging.Tagged(o.log, logging.TagStart).Info("Starting WinCC Debug Proxy...")

	if o.store != nil {
		if err := o.store.CleanAll(); err != nil {
			o.log.Warnf("Could not clean %s: %v", o.store.Dir(), err)
		}
	}

	var bindErrs []error
	for _, c := range target.Categories {
		if err := o.StartListener(ctx, c); err != nil {
			o.log.Error(err)
			bindErrs = append(bindErrs, err)
		}
	}
	defer o.Shutdown()
	if len(bindErrs) == len(target.Categories) {
		return errors.Join(bindErrs...)
	}

	logging.Tagged(o.log, logging.TagReady).Info("WinCC Debug Proxy is running!")
	WriteBanner(o.Out, o.cfg)
	if o.cfg.StyleguideVersion != "" {
		o.log.Warnf("Styleguide %s requested: writing styleguide files is not supported, skipping", o.cfg.StyleguideVersion)
	}

	if err := upstream.WaitForConnectivity(ctx, o.upstream, o.cfg.PollInterval, o.log); err != nil {
		return nil
	}

	o.Poll(ctx)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Tagged(o.log, logging.TagStop).Info("Shutting down...")
			return nil
		case <-ticker.C:
			o.Poll(ctx)
		}
	}
}

// Shutdown ends every relay session and stops both listeners
func (o *Orchestrator) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	for _, c := range target.Categories {
		o.state.broadcastDisconnect(c)
		if err := o.StopListener(ctx, c); err != nil {
			o.log.Warn(err)
		}
	}
}
