// Package platform holds the interfaces to optional external collaborators.
// The runner itself owns no durable store; account-scoped resources live in
// a side store reached over HTTP.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// AccountResource is one account-scoped document from the side store.
type AccountResource struct {
	Kind      string          `json:"kind"`
	EntityID  string          `json:"entity_id"`
	Spec      json.RawMessage `json:"spec"`
	UpdatedAt time.Time       `json:"updated_at"`
	Deleted   bool            `json:"deleted"`
}

// AccountResourceFetcher is the contract for the optional side store.
type AccountResourceFetcher interface {
	GetAccountResources(ctx context.Context, kind string, since time.Time) ([]AccountResource, error)
	SetAccountResourceStatus(ctx context.Context, kind, status string, info map[string]any) error
}

// HTTPFetcherOptions configures the HTTP-backed fetcher.
type HTTPFetcherOptions struct {
	BaseURL   string
	APIKey    string
	AccountID string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// HTTPFetcher talks to the platform's account resource API.
type HTTPFetcher struct {
	baseURL   string
	apiKey    string
	accountID string
	client    *http.Client
	log       *slog.Logger
}

// NewHTTPFetcher creates a fetcher for the given platform endpoint.
func NewHTTPFetcher(opts HTTPFetcherOptions) (*HTTPFetcher, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("platform fetcher requires a base url")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		baseURL:   opts.BaseURL,
		apiKey:    opts.APIKey,
		accountID: opts.AccountID,
		client:    &http.Client{Timeout: timeout},
		log:       opts.Logger.With("component", "platform"),
	}, nil
}

// GetAccountResources returns resources of one kind changed since the given
// time. A zero since fetches everything.
func (f *HTTPFetcher) GetAccountResources(ctx context.Context, kind string, since time.Time) ([]AccountResource, error) {
	q := url.Values{}
	q.Set("account_id", f.accountID)
	q.Set("kind", kind)
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"/api/account_resources?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("account resource fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("account resource fetch returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var resources []AccountResource
	if err := json.NewDecoder(resp.Body).Decode(&resources); err != nil {
		return nil, fmt.Errorf("failed to decode account resources: %w", err)
	}
	return resources, nil
}

// SetAccountResourceStatus reports sync status back to the platform.
func (f *HTTPFetcher) SetAccountResourceStatus(ctx context.Context, kind, status string, info map[string]any) error {
	payload, err := json.Marshal(map[string]any{
		"account_id": f.accountID,
		"kind":       kind,
		"status":     status,
		"info":       info,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		f.baseURL+"/api/account_resources/status", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("account resource status update failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("account resource status update returned %d", resp.StatusCode)
	}
	return nil
}
