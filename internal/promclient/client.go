// Package promclient wraps the Prometheus query API and the Alertmanager
// silence API used by actions.
package promclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/kestrelhq/kestrel/pkg/models"
)

// Options configures the Prometheus query client.
type Options struct {
	URL     string
	Timeout time.Duration
	Logger  *slog.Logger
	Auth    AuthConfig
	Headers map[string]string
}

// AuthConfig covers the supported authorization schemes. At most one of
// BearerToken / Username+Password is used; TokenFile reads an on-disk
// service-account token (OpenShift pattern).
type AuthConfig struct {
	BearerToken string
	Username    string
	Password    string
	TokenFile   string
}

// QueryResult is the typed result of a PromQL evaluation.
type QueryResult struct {
	ResultType string
	Value      model.Value
}

// Client is the process-wide, connection-pooled Prometheus query client.
type Client struct {
	api     v1.API
	timeout time.Duration
	log     *slog.Logger
}

// New builds the client; it does not contact Prometheus until queried.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("prometheus URL is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rt := newAuthRoundTripper(api.DefaultRoundTripper, opts.Auth, opts.Headers)
	apiClient, err := api.NewClient(api.Config{Address: opts.URL, RoundTripper: rt})
	if err != nil {
		return nil, fmt.Errorf("failed to build prometheus client: %w", err)
	}
	return &Client{
		api:     v1.NewAPI(apiClient),
		timeout: timeout,
		log:     logger.With("component", "prometheus_client"),
	}, nil
}

// Query evaluates an instant PromQL expression.
func (c *Client) Query(ctx context.Context, promql string, ts time.Time) (*QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	value, warnings, err := c.api.Query(ctx, promql, ts)
	if err != nil {
		return nil, classifyError(err)
	}
	for _, w := range warnings {
		c.log.Warn("prometheus query warning", "query", promql, "warning", w)
	}
	return &QueryResult{ResultType: value.Type().String(), Value: value}, nil
}

// QueryRange evaluates a ranged PromQL expression.
func (c *Client) QueryRange(ctx context.Context, promql string, start, end time.Time, step time.Duration) (*QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	value, warnings, err := c.api.QueryRange(ctx, promql, v1.Range{Start: start, End: end, Step: step})
	if err != nil {
		return nil, classifyError(err)
	}
	for _, w := range warnings {
		c.log.Warn("prometheus range query warning", "query", promql, "warning", w)
	}
	return &QueryResult{ResultType: value.Type().String(), Value: value}, nil
}

// CheckLiveness verifies the endpoint answers a trivial query.
func (c *Client) CheckLiveness(ctx context.Context) error {
	_, err := c.Query(ctx, "vector(1)", time.Now())
	return err
}

// classifyError maps transport failures onto the stable error codes.
func classifyError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
		return models.NewActionError(models.ErrPrometheusNotFound, "prometheus is unreachable", err)
	}
	return models.NewActionError(models.ErrActionUnexpected, "prometheus query failed", err)
}

// authRoundTripper injects the configured authorization header and any extra
// headers into every request.
type authRoundTripper struct {
	next    http.RoundTripper
	auth    AuthConfig
	headers map[string]string
}

func newAuthRoundTripper(next http.RoundTripper, auth AuthConfig, headers map[string]string) http.RoundTripper {
	return &authRoundTripper{next: next, auth: auth, headers: headers}
}

func (a *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if header, err := AuthorizationHeader(a.auth); err == nil && header != "" {
		clone.Header.Set("Authorization", header)
	}
	for k, v := range a.headers {
		clone.Header.Set(k, v)
	}
	return a.next.RoundTrip(clone)
}
