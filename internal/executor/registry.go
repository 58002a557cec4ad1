// Package executor runs matched playbooks: it resolves actions, typechecks
// their parameters, executes the chain and hands findings to the sink router.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"k8s.io/client-go/kubernetes"

	"github.com/kestrelhq/kestrel/internal/event"
	"github.com/kestrelhq/kestrel/internal/kube"
	"github.com/kestrelhq/kestrel/internal/promclient"
	"github.com/kestrelhq/kestrel/internal/throttle"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// Runtime is the explicit process context handed to actions in place of
// global singletons. Fields may be nil when the backing service is not
// configured; actions must tolerate that.
type Runtime struct {
	Logger       *slog.Logger
	Limiter      throttle.Limiter
	Prometheus   *promclient.Client
	Alertmanager *promclient.AlertmanagerClient
	Kube         kubernetes.Interface
	Discovery    *kube.Discovery

	AccountID   string
	ClusterName string
	SigningKey  string
}

// ActionFunc is the body of a named action. It mutates the execution event
// (findings, enrichments, stop flag, response) and returns an error only for
// failures worth a failure finding.
type ActionFunc func(ctx context.Context, rt *Runtime, ev event.ExecutionEvent, params any) error

// ActionDescriptor binds an action name to its parameter schema and body.
// NewParams returns a fresh pointer to the schema struct with defaults set;
// nil means the action takes no parameters.
type ActionDescriptor struct {
	Name      string
	NewParams func() any
	Run       ActionFunc
}

// ActionRegistry is the process-wide table of named actions, assembled from
// statically linked modules at boot. Config references names; the loader
// resolves and typechecks against it.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]ActionDescriptor
}

// NewActionRegistry returns an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: make(map[string]ActionDescriptor)}
}

// Register adds an action; duplicate names are a programming error.
func (r *ActionRegistry) Register(d ActionDescriptor) error {
	if d.Name == "" || d.Run == nil {
		return fmt.Errorf("action descriptor requires a name and a body")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[d.Name]; exists {
		return fmt.Errorf("action %q already registered", d.Name)
	}
	r.actions[d.Name] = d
	return nil
}

// MustRegister registers or panics; used by built-in action modules at boot.
func (r *ActionRegistry) MustRegister(d ActionDescriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get resolves an action by name.
func (r *ActionRegistry) Get(name string) (ActionDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.actions[name]
	return d, ok
}

// Names lists the registered action names, sorted.
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DecodeActionParams parses a YAML fragment into the action's schema,
// converting type errors into ILLEGAL_ACTION_PARAMS.
func DecodeActionParams(d ActionDescriptor, fragment models.NamedFragment) (any, error) {
	if d.NewParams == nil {
		return nil, nil
	}
	params := d.NewParams()
	if err := fragment.DecodeParams(params); err != nil {
		return nil, models.NewActionError(models.ErrIllegalActionParams,
			fmt.Sprintf("invalid parameters for action %q", d.Name), err)
	}
	return params, nil
}
