package promclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/pkg/models"
)

// DefaultServiceAccountTokenPath is where OpenShift mounts the in-cluster
// token used to authorize against a protected Alertmanager.
const DefaultServiceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// SilenceMatcher is one Alertmanager v2 silence matcher.
type SilenceMatcher struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	IsRegex bool   `json:"isRegex"`
	IsEqual bool   `json:"isEqual"`
}

// Silence is an Alertmanager v2 silence.
type Silence struct {
	ID        string           `json:"id,omitempty"`
	Matchers  []SilenceMatcher `json:"matchers"`
	StartsAt  time.Time        `json:"startsAt"`
	EndsAt    time.Time        `json:"endsAt"`
	CreatedBy string           `json:"createdBy"`
	Comment   string           `json:"comment"`
}

// AlertmanagerOptions configures the silence client. GrafanaProxyDatasource,
// when set, prefixes requests with the Grafana datasource proxy path.
type AlertmanagerOptions struct {
	URL                    string
	Timeout                time.Duration
	Logger                 *slog.Logger
	Auth                   AuthConfig
	GrafanaProxyDatasource string
}

// AlertmanagerClient does silence CRUD over /api/v2/silences.
type AlertmanagerClient struct {
	baseURL string
	client  *http.Client
	auth    AuthConfig
	log     *slog.Logger
}

// NewAlertmanagerClient constructs the silence client.
func NewAlertmanagerClient(opts AlertmanagerOptions) (*AlertmanagerClient, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(opts.URL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("alertmanager URL is required")
	}
	if opts.GrafanaProxyDatasource != "" {
		baseURL += "/api/datasources/proxy/uid/" + opts.GrafanaProxyDatasource
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertmanagerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		auth:    opts.Auth,
		log:     logger.With("component", "alertmanager_client"),
	}, nil
}

// CreateSilence posts a new silence and returns its id.
func (c *AlertmanagerClient) CreateSilence(ctx context.Context, silence Silence) (string, error) {
	body, err := json.Marshal(silence)
	if err != nil {
		return "", models.NewActionError(models.ErrAddSilenceFailed, "failed to encode silence", err)
	}
	respBody, err := c.do(ctx, http.MethodPost, "/api/v2/silences", bytes.NewReader(body))
	if err != nil {
		return "", models.NewActionError(models.ErrAddSilenceFailed, "silence creation failed", err)
	}
	var created struct {
		SilenceID string `json:"silenceID"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", models.NewActionError(models.ErrAddSilenceFailed, "unexpected silence response", err)
	}
	return created.SilenceID, nil
}

// ListSilences fetches all silences.
func (c *AlertmanagerClient) ListSilences(ctx context.Context) ([]Silence, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v2/silences", nil)
	if err != nil {
		return nil, models.NewActionError(models.ErrAlertManagerRequestFailed, "failed to list silences", err)
	}
	var silences []Silence
	if err := json.Unmarshal(body, &silences); err != nil {
		return nil, models.NewActionError(models.ErrAlertManagerRequestFailed, "unexpected silences response", err)
	}
	return silences, nil
}

// DeleteSilence expires a silence by id.
func (c *AlertmanagerClient) DeleteSilence(ctx context.Context, id string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/api/v2/silence/"+id, nil); err != nil {
		return models.NewActionError(models.ErrAlertManagerRequestFailed, "failed to delete silence", err)
	}
	return nil
}

func (c *AlertmanagerClient) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if header, err := AuthorizationHeader(c.auth); err != nil {
		c.log.Warn("failed to build authorization header", "error", err)
	} else if header != "" {
		req.Header.Set("Authorization", header)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		trimmed := strings.TrimSpace(string(respBody))
		if trimmed == "" {
			trimmed = resp.Status
		}
		return nil, fmt.Errorf("alertmanager returned status %d (%s)", resp.StatusCode, trimmed)
	}
	if readErr != nil {
		return nil, readErr
	}
	return respBody, nil
}

// AuthorizationHeader synthesizes the Authorization header value from the
// auth config: bearer token, basic auth, or an on-disk service-account token,
// in that order of precedence.
func AuthorizationHeader(auth AuthConfig) (string, error) {
	switch {
	case auth.BearerToken != "":
		return "Bearer " + auth.BearerToken, nil
	case auth.Username != "":
		credentials := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		return "Basic " + credentials, nil
	case auth.TokenFile != "":
		token, err := os.ReadFile(auth.TokenFile)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		return "Bearer " + strings.TrimSpace(string(token)), nil
	default:
		return "", nil
	}
}
