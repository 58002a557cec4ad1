package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/pkg/models"
)

// webhookPayload is the JSON document the generic webhook sink posts.
type webhookPayload struct {
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	Severity       string            `json:"severity"`
	Source         string            `json:"source"`
	Type           string            `json:"type"`
	AggregationKey string            `json:"aggregation_key,omitempty"`
	Fingerprint    string            `json:"fingerprint"`
	Status         string            `json:"status,omitempty"`
	ClusterName    string            `json:"cluster_name"`
	Subject        models.Subject    `json:"subject"`
	Labels         map[string]string `json:"labels,omitempty"`
	Text           string            `json:"text"`
	Failure        bool              `json:"failure,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// WebhookSink posts findings as JSON to a fixed URL with optional headers.
type WebhookSink struct {
	Base
	client *http.Client
}

// NewWebhookSink builds the generic webhook transport.
func NewWebhookSink(cfg models.SinkConfig, clusterName string, log *slog.Logger) (*WebhookSink, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("webhook sink %q requires a url", cfg.Name)
	}
	return &WebhookSink{
		Base:   NewBase(cfg, clusterName, log),
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// WriteFinding renders and transmits one finding. Failures are returned for
// the router to count; they never propagate into the executor.
func (s *WebhookSink) WriteFinding(ctx context.Context, f *models.Finding) error {
	payload := webhookPayload{
		Title:          f.Title,
		Description:    f.Description,
		Severity:       string(f.Severity),
		Source:         string(f.Source),
		Type:           string(f.Type),
		AggregationKey: f.AggregationKey,
		Fingerprint:    f.Fingerprint,
		Status:         string(f.Status),
		ClusterName:    s.ClusterName,
		Subject:        f.Subject,
		Labels:         f.Subject.Labels,
		Text:           findingText(f),
		Failure:        f.Failure,
		Timestamp:      time.Now(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.Config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		respBody, _ := io.ReadAll(resp.Body)
		trimmed := strings.TrimSpace(string(respBody))
		if trimmed == "" {
			trimmed = resp.Status
		}
		return fmt.Errorf("webhook returned status %d (%s)", resp.StatusCode, trimmed)
	}
	return nil
}
