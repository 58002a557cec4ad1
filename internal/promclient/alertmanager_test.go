package promclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newSilenceServer(t *testing.T, captured *Silence) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v2/silences":
			body, err := io.ReadAll(r.Body)
			if err != nil {
				t.Error(err)
			}
			if err := json.Unmarshal(body, captured); err != nil {
				t.Errorf("bad silence body %q: %v", body, err)
			}
			json.NewEncoder(w).Encode(map[string]string{"silenceID": "sil-123"})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v2/silences":
			json.NewEncoder(w).Encode([]Silence{{ID: "sil-123"}})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v2/silence/sil-123":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestCreateSilence(t *testing.T) {
	var captured Silence
	srv := newSilenceServer(t, &captured)
	defer srv.Close()

	c, err := NewAlertmanagerClient(AlertmanagerOptions{
		URL:    srv.URL,
		Logger: slog.Default(),
	})
	if err != nil {
		t.Fatal(err)
	}

	silence := Silence{
		Matchers: []SilenceMatcher{
			{Name: "alertname", Value: "TargetDown", IsEqual: true},
			{Name: "job", Value: "coredns", IsEqual: true},
			{Name: "service", Value: "kube-dns", IsEqual: true},
		},
		StartsAt:  time.Now(),
		EndsAt:    time.Now().Add(5 * 365 * 24 * time.Hour),
		CreatedBy: "kestrel",
		Comment:   "no pods back this target",
	}
	id, err := c.CreateSilence(context.Background(), silence)
	if err != nil {
		t.Fatal(err)
	}
	if id != "sil-123" {
		t.Fatalf("id = %q", id)
	}

	if len(captured.Matchers) != 3 {
		t.Fatalf("got %d matchers, want 3", len(captured.Matchers))
	}
	byName := map[string]SilenceMatcher{}
	for _, m := range captured.Matchers {
		byName[m.Name] = m
	}
	for name, value := range map[string]string{"alertname": "TargetDown", "job": "coredns", "service": "kube-dns"} {
		m, ok := byName[name]
		if !ok || m.Value != value || !m.IsEqual || m.IsRegex {
			t.Fatalf("matcher %s wrong: %+v", name, m)
		}
	}
}

func TestListAndDeleteSilence(t *testing.T) {
	var captured Silence
	srv := newSilenceServer(t, &captured)
	defer srv.Close()

	c, err := NewAlertmanagerClient(AlertmanagerOptions{URL: srv.URL, Logger: slog.Default()})
	if err != nil {
		t.Fatal(err)
	}

	silences, err := c.ListSilences(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(silences) != 1 || silences[0].ID != "sil-123" {
		t.Fatalf("unexpected silences %+v", silences)
	}

	if err := c.DeleteSilence(context.Background(), "sil-123"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteSilence(context.Background(), "missing"); err == nil {
		t.Fatal("deleting an unknown silence must surface the error status")
	}
}

func TestAuthorizationHeader(t *testing.T) {
	t.Run("bearer wins over basic", func(t *testing.T) {
		header, err := AuthorizationHeader(AuthConfig{BearerToken: "tok", Username: "u", Password: "p"})
		if err != nil || header != "Bearer tok" {
			t.Fatalf("header = %q, err = %v", header, err)
		}
	})

	t.Run("basic auth encodes credentials", func(t *testing.T) {
		header, err := AuthorizationHeader(AuthConfig{Username: "user", Password: "pass"})
		if err != nil || header != "Basic dXNlcjpwYXNz" {
			t.Fatalf("header = %q, err = %v", header, err)
		}
	})

	t.Run("empty config yields no header", func(t *testing.T) {
		header, err := AuthorizationHeader(AuthConfig{})
		if err != nil || header != "" {
			t.Fatalf("header = %q, err = %v", header, err)
		}
	})
}

func TestGrafanaProxyPrefix(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewEncoder(w).Encode([]Silence{})
	}))
	defer srv.Close()

	c, err := NewAlertmanagerClient(AlertmanagerOptions{
		URL:                    srv.URL,
		Logger:                 slog.Default(),
		GrafanaProxyDatasource: "am-ds",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListSilences(context.Background()); err != nil {
		t.Fatal(err)
	}
	if path != "/api/datasources/proxy/uid/am-ds/api/v2/silences" {
		t.Fatalf("path = %q", path)
	}
}
