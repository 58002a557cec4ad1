package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/internal/event"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// HelmTriggerParams configure the Helm release trigger family.
type HelmTriggerParams struct {
	// Statuses are the release statuses that fire the trigger
	// (failed, deployed, uninstalled, pending-install, pending-upgrade, ...).
	Statuses []string `yaml:"statuses"`
	// DwellSeconds is how long a release must have sat in the status before
	// firing; zero fires immediately.
	DwellSeconds int `yaml:"duration,omitempty"`
	// NamePrefix and Namespace narrow the releases considered.
	NamePrefix string `yaml:"name_prefix,omitempty"`
	Namespace  string `yaml:"namespace,omitempty"`
	// OneTime gates on last_deployed after process start so historic releases
	// do not re-fire on every poll.
	OneTime bool `yaml:"-"`
}

// HelmReleaseTrigger fires when a release in the polled batch is in a watched
// status within the dwell window.
type HelmReleaseTrigger struct {
	Params       HelmTriggerParams
	processStart time.Time
	now          func() time.Time
}

// NewHelmReleaseTrigger compiles a Helm release trigger.
func NewHelmReleaseTrigger(params HelmTriggerParams) (*HelmReleaseTrigger, error) {
	if len(params.Statuses) == 0 {
		return nil, fmt.Errorf("helm release trigger requires at least one status")
	}
	return &HelmReleaseTrigger{
		Params:       params,
		processStart: time.Now(),
		now:          time.Now,
	}, nil
}

func (t *HelmReleaseTrigger) EventTypes() []string { return []string{"helm_releases"} }

func (t *HelmReleaseTrigger) ShouldFire(ev event.TriggerEvent) bool {
	tick, ok := ev.(*event.HelmReleaseTick)
	if !ok {
		return false
	}
	return t.firstMatch(tick) != nil
}

// firstMatch returns the first release in the batch satisfying the trigger.
func (t *HelmReleaseTrigger) firstMatch(tick *event.HelmReleaseTick) *event.HelmRelease {
	for i := range tick.Releases {
		r := &tick.Releases[i]
		if !t.statusWatched(r.Status) {
			continue
		}
		if t.Params.NamePrefix != "" && !strings.HasPrefix(r.Name, t.Params.NamePrefix) {
			continue
		}
		if t.Params.Namespace != "" && r.Namespace != t.Params.Namespace {
			continue
		}
		if t.Params.OneTime && !r.LastDeployed.After(t.processStart) {
			continue
		}
		if t.Params.DwellSeconds > 0 {
			dwell := time.Duration(t.Params.DwellSeconds) * time.Second
			if t.now().Sub(r.LastDeployed) < dwell {
				continue
			}
		}
		return r
	}
	return nil
}

func (t *HelmReleaseTrigger) statusWatched(status string) bool {
	for _, s := range t.Params.Statuses {
		if strings.EqualFold(s, status) {
			return true
		}
		// pending-* covers pending-install, pending-upgrade, pending-rollback.
		if strings.EqualFold(s, "pending-*") && strings.HasPrefix(strings.ToLower(status), "pending-") {
			return true
		}
	}
	return false
}

func (t *HelmReleaseTrigger) BuildExecutionEvent(ev event.TriggerEvent) event.ExecutionEvent {
	tick := ev.(*event.HelmReleaseTick)
	return &event.HelmReleaseEvent{
		Base:    event.Base{Source: models.SourceHelm},
		Release: t.firstMatch(tick),
	}
}
