package trigger

import (
	"context"
	"fmt"

	"github.com/kestrelhq/kestrel/internal/event"
	"github.com/kestrelhq/kestrel/internal/kube"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// ProviderResolver reports the detected cluster provider; injected so trigger
// evaluation stays pure and testable.
type ProviderResolver func() kube.ClusterProvider

// PrometheusTriggerParams configure an on_prometheus_alert trigger.
type PrometheusTriggerParams struct {
	AlertName    string            `yaml:"alert_name"`
	Status       event.AlertStatus `yaml:"status,omitempty"`
	LabelsExpr   string            `yaml:"labels,omitempty"`
	K8sProviders []string          `yaml:"k8s_providers,omitempty"`
}

// PrometheusTrigger fires on Alertmanager alerts matching the alert name,
// status, label expression and optional provider filter.
type PrometheusTrigger struct {
	Params   PrometheusTriggerParams
	provider ProviderResolver
}

// NewPrometheusTrigger compiles a Prometheus alert trigger.
func NewPrometheusTrigger(params PrometheusTriggerParams, provider ProviderResolver) (*PrometheusTrigger, error) {
	if params.AlertName == "" {
		return nil, fmt.Errorf("on_prometheus_alert requires alert_name")
	}
	return &PrometheusTrigger{Params: params, provider: provider}, nil
}

func (t *PrometheusTrigger) EventTypes() []string { return []string{"prometheus_alert"} }

func (t *PrometheusTrigger) ShouldFire(ev event.TriggerEvent) bool {
	alert, ok := ev.(*event.PrometheusAlert)
	if !ok {
		return false
	}
	if alert.AlertName() != t.Params.AlertName {
		return false
	}
	if t.Params.Status != "" && alert.Status != t.Params.Status {
		return false
	}
	if t.Params.LabelsExpr != "" && !models.LabelsMatch(t.Params.LabelsExpr, alert.Labels) {
		return false
	}
	if len(t.Params.K8sProviders) > 0 && t.provider != nil {
		current := string(t.provider())
		matched := false
		for _, p := range t.Params.K8sProviders {
			if p == current {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func (t *PrometheusTrigger) BuildExecutionEvent(ev event.TriggerEvent) event.ExecutionEvent {
	alert := ev.(*event.PrometheusAlert)
	return &event.PrometheusKubernetesAlert{
		Base:  event.Base{Source: models.SourcePrometheus},
		Alert: alert,
	}
}

// ResolverForDiscovery adapts the kube discovery cache to a ProviderResolver.
func ResolverForDiscovery(d *kube.Discovery) ProviderResolver {
	if d == nil {
		return nil
	}
	return func() kube.ClusterProvider {
		return d.Provider(context.Background())
	}
}
