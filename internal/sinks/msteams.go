package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/pkg/models"
)

// MSTeamsSink posts findings as MessageCard payloads to an incoming webhook.
// webhook_override templates the target URL per finding.
type MSTeamsSink struct {
	Base
	client *http.Client
}

// NewMSTeamsSink builds the MS Teams transport.
func NewMSTeamsSink(cfg models.SinkConfig, clusterName string, log *slog.Logger) (*MSTeamsSink, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("msteams sink %q requires a url", cfg.Name)
	}
	return &MSTeamsSink{
		Base:   NewBase(cfg, clusterName, log),
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type teamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor"`
	Summary    string         `json:"summary"`
	Sections   []teamsSection `json:"sections"`
}

type teamsSection struct {
	ActivityTitle string `json:"activityTitle"`
	Text          string `json:"text,omitempty"`
	Markdown      bool   `json:"markdown"`
}

// WriteFinding posts a MessageCard to the resolved webhook.
func (s *MSTeamsSink) WriteFinding(ctx context.Context, f *models.Finding) error {
	target := s.RenderTarget(s.Config.WebhookOverride, s.Config.URL, f)

	card := teamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: strings.TrimPrefix(f.Severity.Color(), "#"),
		Summary:    f.Title,
		Sections: []teamsSection{{
			ActivityTitle: fmt.Sprintf("%s %s", f.Severity.Emoji(), f.Title),
			Text:          findingText(f),
			Markdown:      true,
		}},
	}
	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("failed to marshal teams card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create teams request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("teams request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("teams returned status %d", resp.StatusCode)
	}
	return nil
}
