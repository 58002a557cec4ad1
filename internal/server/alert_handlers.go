package server

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kestrelhq/kestrel/internal/event"
)

// alertmanagerEnvelope is the Alertmanager v1 webhook payload.
type alertmanagerEnvelope struct {
	Version           string              `json:"version"`
	GroupKey          string              `json:"groupKey"`
	Receiver          string              `json:"receiver"`
	Status            string              `json:"status"`
	Alerts            []alertmanagerAlert `json:"alerts"`
	GroupLabels       map[string]string   `json:"groupLabels"`
	CommonLabels      map[string]string   `json:"commonLabels"`
	CommonAnnotations map[string]string   `json:"commonAnnotations"`
	ExternalURL       string              `json:"externalURL"`
}

type alertmanagerAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

// handleAlertmanagerWebhook fans the envelope out into one event per alert.
// The webhook source blocks rather than drops: when the executor queue is
// saturated the whole delivery is rejected with 503 so Alertmanager retries.
func (s *Server) handleAlertmanagerWebhook(c *fiber.Ctx) error {
	var envelope alertmanagerEnvelope
	if err := c.BodyParser(&envelope); err != nil {
		return SendError(c, fiber.StatusBadRequest, "invalid alertmanager payload")
	}
	if len(envelope.Alerts) == 0 {
		return SendSuccess(c, fiber.StatusOK, fiber.Map{"accepted": 0})
	}

	events := make([]*event.PrometheusAlert, 0, len(envelope.Alerts))
	for _, a := range envelope.Alerts {
		if a.Labels["alertname"] == "" {
			return SendError(c, fiber.StatusBadRequest, "alert without alertname label")
		}
		status := event.AlertFiring
		if a.Status == string(event.AlertResolved) {
			status = event.AlertResolved
		}
		events = append(events, &event.PrometheusAlert{
			Meta:         event.NewMeta(),
			Labels:       a.Labels,
			Annotations:  a.Annotations,
			StartsAt:     a.StartsAt,
			EndsAt:       normalizeEndsAt(a.EndsAt),
			Status:       status,
			GeneratorURL: a.GeneratorURL,
			Fingerprint:  a.Fingerprint,
		})
	}

	accepted := 0
	for _, ev := range events {
		if !s.pipeline.TryEnqueue(ev) {
			s.log.Warn("executor queue saturated, rejecting alert delivery",
				"accepted", accepted, "total", len(events))
			return SendError(c, fiber.StatusServiceUnavailable, "event queue saturated")
		}
		accepted++
	}

	s.log.Debug("accepted alertmanager delivery",
		"alerts", accepted, "receiver", envelope.Receiver, "status", envelope.Status)
	return SendSuccess(c, fiber.StatusOK, fiber.Map{"accepted": accepted})
}

// normalizeEndsAt maps Alertmanager's year-0001 placeholder for "still
// firing" to the unix epoch so downstream comparisons are well defined.
func normalizeEndsAt(t time.Time) time.Time {
	if t.Year() == 1 {
		return time.Unix(0, 0).UTC()
	}
	return t
}
