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

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// SlackSink delivers findings via the Slack Web API. The target channel can
// be templated per finding with channel_override; unresolved templates fall
// back to the configured channel.
type SlackSink struct {
	Base
	client *http.Client
	apiURL string
}

// NewSlackSink builds the Slack transport.
func NewSlackSink(cfg models.SinkConfig, clusterName string, log *slog.Logger) (*SlackSink, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("slack sink %q requires api_key", cfg.Name)
	}
	if cfg.SlackChannel == "" {
		return nil, fmt.Errorf("slack sink %q requires slack_channel", cfg.Name)
	}
	apiURL := cfg.URL
	if apiURL == "" {
		apiURL = slackPostMessageURL
	}
	return &SlackSink{
		Base:   NewBase(cfg, clusterName, log),
		client: &http.Client{Timeout: 10 * time.Second},
		apiURL: apiURL,
	}, nil
}

// Target resolves the delivery channel for a finding.
func (s *SlackSink) Target(f *models.Finding) string {
	return s.RenderTarget(s.Config.ChannelOverride, s.Config.SlackChannel, f)
}

type slackMessage struct {
	Channel     string            `json:"channel"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color string `json:"color"`
	Text  string `json:"text"`
}

// WriteFinding posts the finding to the resolved channel. Enrichments ride in
// a colored attachment; block variants Slack cannot show degrade to text.
func (s *SlackSink) WriteFinding(ctx context.Context, f *models.Finding) error {
	message := slackMessage{
		Channel: s.Target(f),
		Text:    fmt.Sprintf("%s *%s*", f.Severity.Emoji(), f.Title),
	}
	var parts []string
	if f.Description != "" {
		parts = append(parts, f.Description)
	}
	for _, e := range f.Enrichments {
		if text := renderBlocksAsText(e.Blocks); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) > 0 {
		message.Attachments = []slackAttachment{{
			Color: f.Severity.Color(),
			Text:  strings.Join(parts, "\n"),
		}}
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	var apiResp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("unexpected slack response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("slack rejected message: %s", apiResp.Error)
	}
	return nil
}
