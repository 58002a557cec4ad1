// Package sinks implements the sink router and the bundled transports that
// deliver findings to chat, mail and webhook targets.
package sinks

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/internal/template"
	"github.com/kestrelhq/kestrel/pkg/models"
)

// Sink is the delivery contract every transport implements. Accepts is
// provided by Base; WriteFinding renders and transmits.
type Sink interface {
	Name() string
	IsDefault() bool
	Accepts(f *models.Finding) bool
	WriteFinding(ctx context.Context, f *models.Finding) error
}

// ServiceDiffHandler is implemented by sinks that mirror resource changes for
// platform-enabled accounts. Optional.
type ServiceDiffHandler interface {
	HandleServiceDiff(resource any, op string)
}

// Base carries the configuration-driven gating shared by all sinks.
type Base struct {
	Config models.SinkConfig
	Log    *slog.Logger

	ClusterName string
	now         func() time.Time
}

// NewBase builds the shared sink core.
func NewBase(cfg models.SinkConfig, clusterName string, log *slog.Logger) Base {
	return Base{
		Config:      cfg,
		Log:         log.With("sink", cfg.Name),
		ClusterName: clusterName,
		now:         time.Now,
	}
}

func (b *Base) Name() string    { return b.Config.Name }
func (b *Base) IsDefault() bool { return b.Config.Default }

// MailboxCapacity reports the configured mailbox bound; zero means the router
// default.
func (b *Base) MailboxCapacity() int { return b.Config.MailboxCapacity }

// Accepts gates delivery: the time-slice policy must currently allow, and the
// finding must pass the scope (plus the legacy matcher list, evaluated as an
// extra include set).
func (b *Base) Accepts(f *models.Finding) bool {
	if !b.withinTimeSlices() {
		return false
	}
	if len(b.Config.Matchers) > 0 {
		legacy := models.ScopeParams{Include: b.Config.Matchers}
		if !legacy.Matches(f) {
			return false
		}
	}
	if b.Config.Scope != nil && !b.Config.Scope.Matches(f) {
		return false
	}
	return true
}

// withinTimeSlices checks the activity windows; no configured slices means
// always allow.
func (b *Base) withinTimeSlices() bool {
	if len(b.Config.TimeSlices) == 0 {
		return true
	}
	for _, slice := range b.Config.TimeSlices {
		if b.sliceAllows(slice) {
			return true
		}
	}
	return false
}

func (b *Base) sliceAllows(slice models.TimeSlice) bool {
	loc := time.UTC
	if slice.Timezone != "" {
		if parsed, err := time.LoadLocation(slice.Timezone); err == nil {
			loc = parsed
		} else {
			b.Log.Warn("invalid timezone in sink activity window", "timezone", slice.Timezone)
		}
	}
	now := b.now().In(loc)

	if len(slice.Weekdays) > 0 && !weekdayListed(slice.Weekdays, now.Weekday()) {
		return false
	}
	if len(slice.TimeRanges) == 0 {
		return true
	}
	minutes := now.Hour()*60 + now.Minute()
	for _, r := range slice.TimeRanges {
		start, okStart := parseClock(r.Start)
		end, okEnd := parseClock(r.End)
		if okStart && okEnd && minutes >= start && minutes <= end {
			return true
		}
	}
	return false
}

func weekdayListed(days []string, day time.Weekday) bool {
	name := strings.ToLower(day.String())
	for _, d := range days {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == name || (len(d) >= 3 && d[:3] == name[:3]) {
			return true
		}
	}
	return false
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// RenderTarget resolves a templated delivery target against the finding's
// subject labels and annotations.
func (b *Base) RenderTarget(tmpl, defaultTarget string, f *models.Finding) string {
	return template.RenderTarget(tmpl, defaultTarget, template.Bindings{
		ClusterName: b.ClusterName,
		Labels:      f.Subject.Labels,
		Annotations: f.Subject.Annotations,
	})
}
