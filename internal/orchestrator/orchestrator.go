// Package orchestrator runs background work off the foreground event
// loop, wrapping every spawned task in a loading indicator and
// guaranteeing exactly one terminal event per task (spec §4.7).
package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dawidpereira/quetty/internal/bus"
	"github.com/dawidpereira/quetty/internal/errs"
)

// Handle lets a running task post progress updates and observe
// cancellation. It is the argument execute_with_progress's future
// factory receives.
type Handle struct {
	ctx context.Context
	b   *bus.Bus
}

// Context returns the task's cancellation context.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Progress re-labels the in-flight loading indicator.
func (h *Handle) Progress(label string) {
	if h.b == nil {
		return
	}
	h.b.Publish(bus.LoadingProgress{Label: label})
}

// Task is a unit of background work. It must honor ctx cancellation and
// return promptly once ctx is done.
type Task func(ctx context.Context) (any, error)

// ProgressTask is a unit of background work that may post Progress
// updates on its Handle.
type ProgressTask func(h *Handle) (any, error)

// Orchestrator spawns Tasks onto goroutines, reports their lifecycle on
// the bus, and tracks handles for cancellation (spec §4.7, §5).
type Orchestrator struct {
	bus    *bus.Bus
	logger *zap.Logger
	errRep *errs.Reporter

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New constructs an Orchestrator publishing lifecycle events to b and
// routing unhandled task errors through reporter.
func New(b *bus.Bus, logger *zap.Logger, reporter *errs.Reporter) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{bus: b, logger: logger, errRep: reporter, running: make(map[string]context.CancelFunc)}
}

// Execute runs task on a goroutine with loading_label driving the
// loading indicator and default Error Reporter routing on failure
// (spec §4.7's execute form).
func (o *Orchestrator) Execute(ctx context.Context, id, loadingLabel string, task Task) {
	o.ExecuteWithCallbacks(ctx, id, loadingLabel, task, nil, nil)
}

// ExecuteWithCallbacks runs task with caller-supplied success/error
// handlers; onError, when non-nil, supersedes default Error Reporter
// routing (spec §4.7's execute_with_callbacks form).
func (o *Orchestrator) ExecuteWithCallbacks(ctx context.Context, id, loadingLabel string, task Task, onSuccess func(any), onError func(error)) {
	taskCtx, cancel := context.WithCancel(ctx)
	o.register(id, cancel)

	o.bus.Publish(bus.Loading{Label: loadingLabel})

	go func() {
		defer o.unregister(id)
		defer cancel()
		defer o.bus.Publish(bus.LoadingStopped{})

		value, err := runGuarded(task, taskCtx)
		switch {
		case taskCtx.Err() != nil:
			o.logger.Debug("task cancelled", zap.String("task", id))
		case err != nil:
			if onError != nil {
				onError(err)
			} else if o.errRep != nil {
				o.errRep.Report(errs.New("orchestrator", id, errs.KindComponent, err))
			}
		default:
			if onSuccess != nil {
				onSuccess(value)
			}
		}
	}()
}

// ExecuteWithProgress runs a ProgressTask, giving it a Handle it can use
// to re-label the loading indicator mid-flight (spec §4.7's
// execute_with_progress form).
func (o *Orchestrator) ExecuteWithProgress(ctx context.Context, id, initialLabel string, task ProgressTask) {
	taskCtx, cancel := context.WithCancel(ctx)
	o.register(id, cancel)

	o.bus.Publish(bus.Loading{Label: initialLabel})

	go func() {
		defer o.unregister(id)
		defer cancel()
		defer o.bus.Publish(bus.LoadingStopped{})

		handle := &Handle{ctx: taskCtx, b: o.bus}
		_, err := runGuardedProgress(task, handle)
		if err != nil && taskCtx.Err() == nil && o.errRep != nil {
			o.errRep.Report(errs.New("orchestrator", id, errs.KindComponent, err))
		}
	}()
}

// Cancel drops the cancellation token for the named task, if it is
// still running. The task observes this cooperatively at its next
// context check (spec §4.7).
func (o *Orchestrator) Cancel(id string) {
	o.mu.Lock()
	cancel, ok := o.running[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

func (o *Orchestrator) register(id string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running[id] = cancel
}

func (o *Orchestrator) unregister(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, id)
}

// runGuarded recovers a panicking task into an error so one bad task
// cannot take down the worker pool, converting it into the same
// Failed-terminal-event path a returned error takes.
func runGuarded(task Task, ctx context.Context) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.New("orchestrator", "panic_recovery", errs.KindComponent, errs.ErrWrongState).WithRemediation("task panicked")
		}
	}()
	return task(ctx)
}

func runGuardedProgress(task ProgressTask, h *Handle) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.New("orchestrator", "panic_recovery", errs.KindComponent, errs.ErrWrongState).WithRemediation("task panicked")
		}
	}()
	return task(h)
}
