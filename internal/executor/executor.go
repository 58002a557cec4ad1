package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"gopkg.in/yaml.v3"

	"github.com/kestrelhq/kestrel/internal/event"
	"github.com/kestrelhq/kestrel/internal/trigger"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// Router receives the findings of a completed playbook run. Implemented by
// the sink router; abstracted here so executor tests can capture dispatches.
type Router interface {
	Dispatch(base *event.Base)
}

// Options configures the executor.
type Options struct {
	Registry *ActionRegistry
	Holder   *trigger.Holder
	Runtime  *Runtime
	Router   Router
	Logger   *slog.Logger

	Workers       int
	QueueSize     int
	ActionTimeout time.Duration
	RunTimeout    time.Duration
}

// Executor consumes the unified event queue with a worker pool. Within a
// worker, each matched playbook chain runs sequentially in declaration order.
type Executor struct {
	registry *ActionRegistry
	holder   *trigger.Holder
	rt       *Runtime
	router   Router
	log      *slog.Logger

	queue         chan event.TriggerEvent
	workers       int
	actionTimeout time.Duration
	runTimeout    time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs an executor; Start launches the workers.
func New(opts Options) *Executor {
	workers := opts.Workers
	if workers <= 0 {
		workers = 8
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	actionTimeout := opts.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = 120 * time.Second
	}
	runTimeout := opts.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 300 * time.Second
	}
	return &Executor{
		registry:      opts.Registry,
		holder:        opts.Holder,
		rt:            opts.Runtime,
		router:        opts.Router,
		log:           opts.Logger.With("component", "executor"),
		queue:         make(chan event.TriggerEvent, queueSize),
		workers:       workers,
		actionTimeout: actionTimeout,
		runTimeout:    runTimeout,
		stop:          make(chan struct{}),
	}
}

// Start launches the worker pool.
func (e *Executor) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case ev := <-e.queue:
					e.Process(ctx, ev)
				case <-e.stop:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	e.log.Info("executor started", "workers", e.workers)
}

// Stop halts the workers; queued events are abandoned.
func (e *Executor) Stop() {
	close(e.stop)
	e.wg.Wait()
}

// Enqueue blocks until the event is queued or the executor stops. Used by
// sources that prefer backpressure over loss.
func (e *Executor) Enqueue(ev event.TriggerEvent) {
	select {
	case e.queue <- ev:
	case <-e.stop:
	}
}

// TryEnqueue queues without blocking; false means the queue is saturated.
// The HTTP ingress turns that into a 503.
func (e *Executor) TryEnqueue(ev event.TriggerEvent) bool {
	select {
	case e.queue <- ev:
		return true
	default:
		metrics.GetOrCreateCounter(`kestrel_events_rejected_total`).Inc()
		return false
	}
}

// Process matches the event against the active registry and runs every
// selected playbook in order on the calling goroutine.
func (e *Executor) Process(ctx context.Context, ev event.TriggerEvent) []*event.Base {
	matches := e.holder.Get().Match(ev)
	if len(matches) == 0 {
		return nil
	}
	metrics.GetOrCreateCounter(`kestrel_playbooks_matched_total`).Add(len(matches))

	bases := make([]*event.Base, 0, len(matches))
	for _, m := range matches {
		base := e.runPlaybook(ctx, m, ev)
		if base == nil {
			continue
		}
		bases = append(bases, base)
		if e.router != nil {
			e.router.Dispatch(base)
		}
		if m.Playbook.Stop {
			e.log.Debug("playbook stopped further matching", "playbook", m.Playbook.ID)
			break
		}
	}
	return bases
}

// runPlaybook executes one playbook chain and returns its accumulator.
func (e *Executor) runPlaybook(ctx context.Context, m trigger.Match, ev event.TriggerEvent) *event.Base {
	runCtx, cancel := context.WithTimeout(ctx, e.runTimeout)
	defer cancel()

	execEvent := m.Trigger.BuildExecutionEvent(ev)
	base := execEvent.ExecutionBase()
	base.NamedSinks = m.Playbook.Sinks
	base.AccountID = e.rt.AccountID
	base.ClusterName = e.rt.ClusterName
	if base.SinkFindings == nil {
		base.SinkFindings = make(map[string][]*models.Finding)
	}

	actions := m.Playbook.Actions
	var overlay map[string]any
	switch te := ev.(type) {
	case *event.Callback:
		// A verified callback names the action to run; the playbook's
		// declared chain is not used.
		fragment, err := invocationFragment(te.ActionName, te.Params)
		if err != nil {
			e.recordFailure(base, te.ActionName,
				models.NewActionError(models.ErrIllegalActionParams, fmt.Sprintf("invalid callback parameters for %q", te.ActionName), err))
			return base
		}
		actions = []models.NamedFragment{fragment}
	case *event.Manual:
		overlay = te.Payload
	}

	for _, fragment := range actions {
		if err := runCtx.Err(); err != nil {
			e.log.Warn("playbook run cancelled", "playbook", m.Playbook.ID, "error", err)
			break
		}
		e.runAction(runCtx, base, execEvent, fragment, overlay)
		if base.StopProcessing {
			break
		}
	}
	return base
}

// invocationFragment synthesizes an action fragment from a callback payload so
// the named action runs with the payload's parameters.
func invocationFragment(name string, params map[string]any) (models.NamedFragment, error) {
	fragment := models.NamedFragment{Name: name}
	if len(params) > 0 {
		var node yaml.Node
		if err := node.Encode(normalizeParams(params)); err != nil {
			return fragment, err
		}
		fragment.Params = &node
	}
	return fragment, nil
}

// normalizeParams rewrites whole-number floats as integers so values decoded
// from JSON request bodies fit integer-typed action parameters.
func normalizeParams(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeParams(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalizeParams(t[i])
		}
		return out
	case float64:
		if t == math.Trunc(t) {
			return int64(t)
		}
		return t
	default:
		return v
	}
}

// runAction resolves, typechecks and invokes one action, converting failures
// into failure findings without aborting the chain. Overlay values from a
// manual trigger request are applied on top of the configured parameters.
func (e *Executor) runAction(ctx context.Context, base *event.Base, execEvent event.ExecutionEvent, fragment models.NamedFragment, overlay map[string]any) {
	descriptor, ok := e.registry.Get(fragment.Name)
	if !ok {
		e.recordFailure(base, fragment.Name,
			models.NewActionError(models.ErrActionUnexpected, fmt.Sprintf("unknown action %q", fragment.Name), nil))
		return
	}

	params, err := DecodeActionParams(descriptor, fragment)
	if err != nil {
		e.recordFailure(base, fragment.Name, err)
		return
	}
	if len(overlay) > 0 && params != nil {
		if err := decodeOverlay(params, overlay); err != nil {
			e.recordFailure(base, fragment.Name,
				models.NewActionError(models.ErrIllegalActionParams, fmt.Sprintf("invalid request parameters for action %q", fragment.Name), err))
			return
		}
	}

	actionCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("action panicked", "action", fragment.Name, "panic", r)
			failure := models.NewActionError(models.ErrActionUnexpected, fmt.Sprintf("action %q panicked: %v", fragment.Name, r), nil)
			e.recordFailure(base, fragment.Name, failure)
			e.attachStack(base, string(debug.Stack()))
		}
	}()

	if err := descriptor.Run(actionCtx, e.rt, execEvent, params); err != nil {
		e.recordFailure(base, fragment.Name, err)
	}
}

// decodeOverlay applies request-supplied values on top of the already decoded
// parameters; only the supplied keys are overwritten.
func decodeOverlay(params any, overlay map[string]any) error {
	var node yaml.Node
	if err := node.Encode(normalizeParams(overlay)); err != nil {
		return err
	}
	return node.Decode(params)
}

// recordFailure appends a failure=true finding for an action error.
func (e *Executor) recordFailure(base *event.Base, actionName string, err error) {
	metrics.GetOrCreateCounter(`kestrel_action_failures_total`).Inc()

	code := models.ErrActionUnexpected
	var actionErr *models.ActionError
	if errors.As(err, &actionErr) {
		code = actionErr.Code
	}
	e.log.Error("action failed", "action", actionName, "code", string(code), "error", err)

	f := models.NewFinding(fmt.Sprintf("Action %s failed", actionName))
	f.Type = models.TypeReport
	f.Source = models.SourceNone
	f.Severity = models.SeverityHigh
	f.Failure = true
	f.AggregationKey = "ActionFailure"
	f.AddEnrichment([]models.Block{
		models.MarkdownBlock{Text: fmt.Sprintf("*%s*\n```%v```", code, err)},
	})
	base.Findings = append(base.Findings, f)
}

func (e *Executor) attachStack(base *event.Base, stack string) {
	if len(base.Findings) == 0 {
		return
	}
	base.Findings[len(base.Findings)-1].AddEnrichment([]models.Block{
		models.FileBlock{Filename: "stack.txt", Contents: []byte(stack)},
	})
}
