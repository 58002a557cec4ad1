package sinks

import (
	"log/slog"
	"testing"
	"time"

	"github.com/kestrelhq/kestrel/pkg/models"
)

func baseAt(cfg models.SinkConfig, at time.Time) *Base {
	b := NewBase(cfg, "prod", slog.Default())
	b.now = func() time.Time { return at }
	return &b
}

func TestAccepts(t *testing.T) {
	// Wednesday 2024-01-10 14:30 UTC.
	wedAfternoon := time.Date(2024, 1, 10, 14, 30, 0, 0, time.UTC)

	t.Run("no policy accepts everything", func(t *testing.T) {
		b := baseAt(models.SinkConfig{Name: "s"}, wedAfternoon)
		if !b.Accepts(models.NewFinding("x")) {
			t.Fatal("unconfigured sink must accept")
		}
	})

	t.Run("weekday window", func(t *testing.T) {
		b := baseAt(models.SinkConfig{
			Name: "s",
			TimeSlices: []models.TimeSlice{
				{Weekdays: []string{"mon", "tue", "wed", "thu", "fri"}},
			},
		}, wedAfternoon)
		if !b.Accepts(models.NewFinding("x")) {
			t.Fatal("wednesday is inside the weekday window")
		}

		sunday := time.Date(2024, 1, 14, 14, 30, 0, 0, time.UTC)
		b = baseAt(b.Config, sunday)
		if b.Accepts(models.NewFinding("x")) {
			t.Fatal("sunday is outside the weekday window")
		}
	})

	t.Run("clock window", func(t *testing.T) {
		cfg := models.SinkConfig{
			Name: "s",
			TimeSlices: []models.TimeSlice{
				{TimeRanges: []models.TimeRange{{Start: "09:00", End: "17:00"}}},
			},
		}
		if !baseAt(cfg, wedAfternoon).Accepts(models.NewFinding("x")) {
			t.Fatal("14:30 is inside 09:00-17:00")
		}
		night := time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC)
		if baseAt(cfg, night).Accepts(models.NewFinding("x")) {
			t.Fatal("03:00 is outside 09:00-17:00")
		}
	})

	t.Run("timezone shifts the window", func(t *testing.T) {
		cfg := models.SinkConfig{
			Name: "s",
			TimeSlices: []models.TimeSlice{
				{
					TimeRanges: []models.TimeRange{{Start: "09:00", End: "17:00"}},
					Timezone:   "America/New_York",
				},
			},
		}
		// 14:30 UTC is 09:30 in New York, inside the window.
		if !baseAt(cfg, wedAfternoon).Accepts(models.NewFinding("x")) {
			t.Fatal("09:30 New York should be inside the window")
		}
		// 13:30 UTC is 08:30 in New York, outside.
		earlier := wedAfternoon.Add(-time.Hour)
		if baseAt(cfg, earlier).Accepts(models.NewFinding("x")) {
			t.Fatal("08:30 New York should be outside the window")
		}
	})

	t.Run("any matching slice allows", func(t *testing.T) {
		cfg := models.SinkConfig{
			Name: "s",
			TimeSlices: []models.TimeSlice{
				{Weekdays: []string{"saturday", "sunday"}},
				{Weekdays: []string{"wednesday"}},
			},
		}
		if !baseAt(cfg, wedAfternoon).Accepts(models.NewFinding("x")) {
			t.Fatal("second slice covers wednesday")
		}
	})

	t.Run("legacy matchers act as an include set", func(t *testing.T) {
		cfg := models.SinkConfig{
			Name: "s",
			Matchers: []models.ScopeMatcher{
				{"namespace": models.MatchExpr{"prod"}},
			},
		}
		prod := models.NewFinding("x")
		prod.Subject.Namespace = "prod"
		dev := models.NewFinding("x")
		dev.Subject.Namespace = "dev"

		b := baseAt(cfg, wedAfternoon)
		if !b.Accepts(prod) {
			t.Fatal("matching namespace must pass")
		}
		if b.Accepts(dev) {
			t.Fatal("non-matching namespace must be rejected")
		}
	})
}

func TestBaseRenderTarget(t *testing.T) {
	b := baseAt(models.SinkConfig{Name: "s"}, time.Now())
	f := models.NewFinding("x")
	f.Subject.Labels = map[string]string{"team": "payments"}

	if got := b.RenderTarget("$labels.team-alerts", "fallback", f); got != "payments-alerts" {
		t.Fatalf("got %q", got)
	}
	if got := b.RenderTarget("$labels.missing", "fallback", f); got != "fallback" {
		t.Fatalf("unresolved template should fall back, got %q", got)
	}
	if got := b.RenderTarget("$cluster_name", "fallback", f); got != "prod" {
		t.Fatalf("got %q", got)
	}
}
