package sinks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/kestrelhq/kestrel/internal/event"
	"github.com/kestrelhq/kestrel/pkg/models"
)

const (
	defaultMailboxCapacity = 1000
	defaultDrainTimeout    = 30 * time.Second
)

// NamespaceLabelResolver looks up the labels of a namespace so
// namespace_labels scopes can match. Returns nil when the lookup fails.
type NamespaceLabelResolver interface {
	Labels(namespace string) map[string]string
}

// RouterOptions configure the sink router. MailboxCapacity is the default for
// sinks without their own capacity setting.
type RouterOptions struct {
	Sinks           []Sink
	Logger          *slog.Logger
	DrainTimeout    time.Duration
	MailboxCapacity int
	Namespaces      NamespaceLabelResolver
}

// Router fans findings out to accepting sinks. Every sink gets a bounded
// mailbox and a single writer goroutine, so a slow sink cannot block the
// others and per-sink delivery order follows enqueue order.
type Router struct {
	sinks      map[string]Sink
	order      []string
	mailboxes  map[string]chan *models.Finding
	namespaces NamespaceLabelResolver
	log        *slog.Logger

	mailboxCapacity int
	drainTimeout    time.Duration
	stop            chan struct{}
	wg              sync.WaitGroup
}

// NewRouter builds a router over the configured sinks. Duplicate sink names
// are a config-load error.
func NewRouter(opts RouterOptions) (*Router, error) {
	r := &Router{
		sinks:           make(map[string]Sink, len(opts.Sinks)),
		mailboxes:       make(map[string]chan *models.Finding, len(opts.Sinks)),
		namespaces:      opts.Namespaces,
		log:             opts.Logger.With("component", "sink_router"),
		mailboxCapacity: opts.MailboxCapacity,
		drainTimeout:    opts.DrainTimeout,
		stop:            make(chan struct{}),
	}
	if r.mailboxCapacity <= 0 {
		r.mailboxCapacity = defaultMailboxCapacity
	}
	if r.drainTimeout <= 0 {
		r.drainTimeout = defaultDrainTimeout
	}
	for _, s := range opts.Sinks {
		if _, dup := r.sinks[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate sink name %q", s.Name())
		}
		r.sinks[s.Name()] = s
		r.order = append(r.order, s.Name())
	}
	return r, nil
}

// Start launches one writer loop per sink.
func (r *Router) Start(ctx context.Context) {
	for _, name := range r.order {
		sink := r.sinks[name]
		capacity := r.mailboxCapacity
		if base, ok := sink.(interface{ MailboxCapacity() int }); ok && base.MailboxCapacity() > 0 {
			capacity = base.MailboxCapacity()
		}
		mailbox := make(chan *models.Finding, capacity)
		r.mailboxes[name] = mailbox

		r.wg.Add(1)
		go r.writerLoop(ctx, sink, mailbox)
	}
	r.log.Info("sink router started", "sinks", len(r.sinks))
}

// Stop drains the mailboxes within the drain deadline; remaining findings
// are dropped with a logged count.
func (r *Router) Stop() {
	close(r.stop)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.drainTimeout):
		remaining := 0
		for _, mailbox := range r.mailboxes {
			remaining += len(mailbox)
		}
		r.log.Warn("sink drain deadline exceeded, dropping remaining findings", "count", remaining)
	}
}

// Sink returns a configured sink by name.
func (r *Router) Sink(name string) (Sink, bool) {
	s, ok := r.sinks[name]
	return s, ok
}

// MailboxLen reports the queued findings for a sink; used by tests and the
// health endpoint.
func (r *Router) MailboxLen(name string) int {
	return len(r.mailboxes[name])
}

// Dispatch routes every finding of a completed playbook run. The playbook's
// named sinks are used when present; otherwise all default sinks. Accepting
// sinks get the finding on their mailbox and in the run's per-sink
// accumulator.
func (r *Router) Dispatch(base *event.Base) {
	names := base.NamedSinks
	if len(names) == 0 {
		for _, name := range r.order {
			if r.sinks[name].IsDefault() {
				names = append(names, name)
			}
		}
	}
	for _, f := range base.Findings {
		r.resolveNamespaceLabels(f)
		for _, name := range names {
			sink, ok := r.sinks[name]
			if !ok {
				r.log.Warn("playbook references unknown sink", "sink", name)
				continue
			}
			if !sink.Accepts(f) {
				continue
			}
			if base.SinkFindings != nil {
				base.SinkFindings[name] = append(base.SinkFindings[name], f)
			}
			r.enqueue(name, f)
		}
	}
}

// resolveNamespaceLabels fills the subject's namespace labels once per
// finding; scope matching itself never mutates findings.
func (r *Router) resolveNamespaceLabels(f *models.Finding) {
	if r.namespaces == nil || f.Subject.Namespace == "" || f.Subject.NamespaceLabels != nil {
		return
	}
	f.Subject.NamespaceLabels = r.namespaces.Labels(f.Subject.Namespace)
}

// enqueue adds to the sink mailbox, dropping the oldest entry on overflow.
func (r *Router) enqueue(name string, f *models.Finding) {
	mailbox, ok := r.mailboxes[name]
	if !ok {
		return
	}
	for {
		select {
		case mailbox <- f:
			return
		default:
		}
		select {
		case dropped := <-mailbox:
			metrics.GetOrCreateCounter(`kestrel_sink_mailbox_dropped_total{sink="` + name + `"}`).Inc()
			r.log.Warn("sink mailbox full, dropping oldest finding",
				"sink", name, "dropped_fingerprint", dropped.Fingerprint)
		default:
		}
	}
}

// writerLoop is the single writer per sink; it preserves enqueue order and
// never propagates transport errors back into the executor.
func (r *Router) writerLoop(ctx context.Context, sink Sink, mailbox chan *models.Finding) {
	defer r.wg.Done()
	for {
		select {
		case f := <-mailbox:
			r.write(ctx, sink, f)
		case <-r.stop:
			// Drain what is already queued before exiting.
			for {
				select {
				case f := <-mailbox:
					r.write(ctx, sink, f)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Router) write(ctx context.Context, sink Sink, f *models.Finding) {
	if err := sink.WriteFinding(ctx, f); err != nil {
		metrics.GetOrCreateCounter(`kestrel_sink_write_failures_total{sink="` + sink.Name() + `"}`).Inc()
		r.log.Error("sink write failed", "sink", sink.Name(), "fingerprint", f.Fingerprint, "error", err)
	}
}
