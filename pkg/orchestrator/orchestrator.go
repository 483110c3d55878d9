// Package orchestrator wires the Watch Target Registry, Event Store,
// Event Processor, Trace Session Manager and IPC Server together and owns
// their combined lifecycle, per spec.md §4.6. The state machine is built
// on github.com/qmuntal/stateless rather than a hand-rolled switch,
// because the transition table (Stopped/Starting/Running/Stopping, with
// a fatal-error escape from Starting) is exactly what stateless is for.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/qmuntal/stateless"
	log "github.com/sirupsen/logrus"

	"github.com/ryoha000/proctail/pkg/config"
	"github.com/ryoha000/proctail/pkg/ipc"
	"github.com/ryoha000/proctail/pkg/kstream"
	"github.com/ryoha000/proctail/pkg/processor"
	"github.com/ryoha000/proctail/pkg/ps"
	"github.com/ryoha000/proctail/pkg/store"
)

// States of the service lifecycle state machine.
const (
	StateStopped  = "Stopped"
	StateStarting = "Starting"
	StateRunning  = "Running"
	StateStopping = "Stopping"
)

// Triggers fired against the state machine.
const (
	triggerStart   = "start"
	triggerStarted = "started"
	triggerFail    = "fail"
	triggerStop    = "stop"
	triggerStopped = "stopped"
)

const (
	traceStopTimeout  = 5 * time.Second
	ipcStopTimeout    = 5 * time.Second
)

// Orchestrator is the daemon's lifecycle owner.
type Orchestrator struct {
	cfg *config.Config

	registry  *ps.Registry
	store     *store.Store
	processor *processor.Processor
	session   kstream.Session
	server    *ipc.Server

	fsm *stateless.StateMachine

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Orchestrator and its component graph from cfg. Nothing
// is started until Start is called.
func New(cfg *config.Config, resolver ps.ImageResolver) *Orchestrator {
	registry := ps.NewRegistry(resolver)
	st := store.New(cfg.MaxEventsPerTag)
	st.SetRetention(cfg.EventRetention())

	procCfg := processor.NewConfig(cfg.EnabledProviders, cfg.EnabledEventNames, cfg.IncludeFileExtensions, cfg.ExcludeFilePatterns)
	proc := processor.New(registry, procCfg)

	o := &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		store:     st,
		processor: proc,
	}
	o.fsm = o.buildStateMachine()
	return o
}

func (o *Orchestrator) buildStateMachine() *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateStopped)

	fsm.Configure(StateStopped).
		Permit(triggerStart, StateStarting)

	fsm.Configure(StateStarting).
		OnEntry(func(ctx context.Context, args ...any) error { return o.doStart(ctx) }).
		Permit(triggerStarted, StateRunning).
		Permit(triggerFail, StateStopping)

	fsm.Configure(StateRunning).
		Permit(triggerStop, StateStopping).
		Ignore(triggerStart)

	fsm.Configure(StateStopping).
		OnEntry(func(ctx context.Context, args ...any) error { return o.doStop(ctx) }).
		Permit(triggerStopped, StateStopped)

	fsm.Configure(StateStopped).
		Ignore(triggerStop)

	return fsm
}

// Start builds and connects the components: it opens the IPC listener,
// then opens the trace session, then starts the event pump and the IPC
// accept loop. Re-entrant on Running is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.fsm.MustState() == StateRunning {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.done = make(chan struct{})
	o.mu.Unlock()

	if err := o.fsm.FireCtx(runCtx, triggerStart); err != nil {
		// doStart's OnEntry hook already moved the fsm into Starting
		// before failing; fire triggerFail so the Stopping state's
		// OnEntry runs doStop and tears down whatever doStart managed
		// to bring up (e.g. the ipc listener) before returning.
		if failErr := o.fsm.FireCtx(runCtx, triggerFail); failErr != nil {
			log.WithError(failErr).Error("failed to transition to Stopping after a failed start")
		} else if stoppedErr := o.fsm.FireCtx(runCtx, triggerStopped); stoppedErr != nil {
			log.WithError(stoppedErr).Error("failed to transition to Stopped after a failed start")
		}
		return err
	}
	return o.fsm.FireCtx(runCtx, triggerStarted)
}

func (o *Orchestrator) doStart(ctx context.Context) error {
	o.session = kstream.NewSession(kstream.Config{
		Providers:    o.cfg.EnabledProviders,
		EventNames:   o.cfg.EnabledEventNames,
		ChannelDepth: kstream.DefaultChannelDepth,
	})

	listener, err := ipc.ListenPipe(o.cfg.PipeName, o.cfg.BufferSize)
	if err != nil {
		return fmt.Errorf("starting ipc listener: %w", err)
	}
	o.server = ipc.New(listener, o, ipc.Config{
		PipeName:                 o.cfg.PipeName,
		MaxConcurrentConnections: o.cfg.MaxConcurrentConnections,
		ResponseTimeout:          o.cfg.ResponseTimeout(),
		BufferSize:               o.cfg.BufferSize,
	})

	if err := o.session.Open(ctx); err != nil {
		// session.Open already returns a Kind-tagged error
		// (PermissionDenied or TraceSessionUnavailable); propagate it
		// unwrapped so callers checking its kind still can.
		return err
	}

	go o.pumpEvents(ctx)
	go func() {
		if err := o.server.Serve(ctx); err != nil {
			log.WithError(err).Error("ipc server stopped with error")
		}
	}()
	go o.pumpSessionErrors(ctx)

	o.store.StartReaper(store.DefaultReapInterval)
	log.Info("proctail orchestrator running")
	return nil
}

func (o *Orchestrator) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-o.session.Events():
			if !ok {
				return
			}
			evt, err := o.processor.Process(raw)
			if err != nil {
				log.WithError(err).Debug("dropping event that failed processing")
				continue
			}
			if evt == nil {
				continue
			}
			o.store.Store(evt.TagName, *evt)
		}
	}
}

func (o *Orchestrator) pumpSessionErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-o.session.Errors():
			if !ok {
				return
			}
			log.WithError(err).Debug("trace session reported a non-fatal error")
		}
	}
}

// Stop cancels the running components and waits (bounded) for them to
// drain. Re-entrant on Stopped is a no-op.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.fsm.MustState() == StateStopped {
		return nil
	}
	if err := o.fsm.FireCtx(ctx, triggerStop); err != nil {
		return err
	}
	return o.fsm.FireCtx(ctx, triggerStopped)
}

func (o *Orchestrator) doStop(ctx context.Context) error {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	stopped := make(chan struct{})
	go func() {
		if o.session != nil {
			if err := o.session.Close(); err != nil {
				log.WithError(err).Warn("error closing trace session")
			}
		}
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(traceStopTimeout):
		log.Warn("trace session stop timed out, proceeding")
	}

	ipcStopped := make(chan struct{})
	go func() {
		if o.server != nil {
			if err := o.server.Close(); err != nil {
				log.WithError(err).Warn("error closing ipc server")
			}
		}
		close(ipcStopped)
	}()
	select {
	case <-ipcStopped:
	case <-time.After(ipcStopTimeout):
		log.Warn("ipc server stop timed out, proceeding")
	}

	_ = o.store.Close()
	_ = o.processor.Close()

	o.mu.Lock()
	if o.done != nil {
		close(o.done)
	}
	o.mu.Unlock()

	log.Info("proctail orchestrator stopped")
	return nil
}

// Done returns a channel closed once a full stop has completed, for
// main() to wait on after issuing an asynchronous Shutdown.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// State reports the orchestrator's current lifecycle state.
func (o *Orchestrator) State() string {
	return o.fsm.MustState().(string)
}

// --- ipc.Handlers ---

func (o *Orchestrator) AddWatchTarget(pid uint32, tag string) error {
	if tag == "" {
		return fmt.Errorf("TagName must not be empty")
	}
	if !o.registry.Add(pid, tag) {
		return fmt.Errorf("process id %d is already watched", pid)
	}
	return nil
}

func (o *Orchestrator) RemoveWatchTarget(tag string) int {
	n := o.registry.RemoveByTag(tag)
	o.store.Clear(tag)
	return n
}

func (o *Orchestrator) GetWatchTargets() []ipc.WatchTarget {
	details := o.registry.ListDetailed()
	out := make([]ipc.WatchTarget, 0, len(details))
	for _, d := range details {
		out = append(out, ipc.WatchTarget{
			ProcessId:    d.ProcessID,
			TagName:      d.TagName,
			ProcessName:  d.ProcessName,
			ImagePath:    d.ImagePath,
			IsChild:      d.IsChild,
			ParentPID:    d.ParentPID,
			RegisteredAt: d.RegisteredAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func (o *Orchestrator) GetRecordedEvents(tag string) (*ipc.Response, error) {
	if tag == "" {
		return nil, fmt.Errorf("TagName must not be empty")
	}
	events := o.store.Get(tag)
	if len(events) == 0 {
		if suggestion, ok := o.suggestTag(tag); ok {
			log.Debugf("tag %q has no recorded events; did you mean %q?", tag, suggestion)
		}
	}
	return &ipc.Response{Events: events}, nil
}

func (o *Orchestrator) ClearEvents(tag string) { o.store.Clear(tag) }

func (o *Orchestrator) GetStatus() ipc.Status {
	stats := o.store.Stats()
	conns := 0
	if o.server != nil {
		conns = o.server.ActiveConnections()
	}
	return ipc.Status{
		Running:           o.State() == StateRunning,
		WatchedTargets:    o.registry.Size(),
		TotalTags:         stats.TagCount,
		TotalEvents:       stats.EventCount,
		EventsPerTag:      stats.PerTagCounts,
		EstimatedBytes:    stats.EstimatedSize,
		ActiveConnections: conns,
	}
}

func (o *Orchestrator) Shutdown() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.Stop(ctx); err != nil {
			log.WithError(err).Error("error during shutdown-triggered stop")
		}
	}()
}

// suggestTag offers a fuzzy "did you mean" match against currently known
// tags, used only for diagnostics on an empty GetRecordedEvents result —
// it never changes the response, since spec.md defines "empty" as the
// correct answer for an unknown tag.
func (o *Orchestrator) suggestTag(tag string) (string, bool) {
	candidates := o.store.Tags()
	ranks := fuzzy.RankFind(tag, candidates)
	if len(ranks) == 0 {
		return "", false
	}
	best := ranks[0]
	for _, r := range ranks[1:] {
		if r.Distance < best.Distance {
			best = r
		}
	}
	return best.Target, true
}
