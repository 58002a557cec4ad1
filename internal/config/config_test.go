package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults apply without a file", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Server.Port != 5000 {
			t.Fatalf("port = %d", cfg.Server.Port)
		}
		if cfg.Executor.Workers != 8 || cfg.Executor.ActionTimeout != 120*time.Second {
			t.Fatalf("executor defaults wrong: %+v", cfg.Executor)
		}
		if !cfg.Playbooks.Watch {
			t.Fatal("playbook watching should default to on")
		}
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 8080
identity:
  cluster_name: staging
executor:
  workers: 2
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Server.Port != 8080 {
			t.Fatalf("port = %d", cfg.Server.Port)
		}
		if cfg.Identity.ClusterName != "staging" {
			t.Fatalf("cluster = %q", cfg.Identity.ClusterName)
		}
		if cfg.Executor.Workers != 2 {
			t.Fatalf("workers = %d", cfg.Executor.Workers)
		}
		// Untouched sections keep their defaults.
		if cfg.Executor.QueueSize != 1000 {
			t.Fatalf("queue size = %d", cfg.Executor.QueueSize)
		}
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		t.Setenv("KESTREL_SERVER_PORT", "9000")
		path := writeConfig(t, "server:\n  port: 8080\n")
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Server.Port != 9000 {
			t.Fatalf("port = %d", cfg.Server.Port)
		}
	})

	t.Run("legacy environment names win", func(t *testing.T) {
		t.Setenv("SIGNING_KEY", "legacy-key")
		t.Setenv("CLUSTER_NAME", "legacy-cluster")
		t.Setenv("PROMETHEUS_REQUEST_TIMEOUT_SECONDS", "15")

		cfg, err := Load("")
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Identity.SigningKey != "legacy-key" || cfg.Identity.ClusterName != "legacy-cluster" {
			t.Fatalf("legacy identity not applied: %+v", cfg.Identity)
		}
		if cfg.Prometheus.RequestTimeout != 15*time.Second {
			t.Fatalf("timeout = %v", cfg.Prometheus.RequestTimeout)
		}
	})

	t.Run("missing file path falls back to defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Server.Port != 5000 {
			t.Fatalf("port = %d", cfg.Server.Port)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("bad port", func(t *testing.T) {
		cfg := Default()
		cfg.Server.Port = -1
		if err := cfg.Validate(); err == nil {
			t.Fatal("negative port must fail")
		}
	})

	t.Run("prometheus enabled without url", func(t *testing.T) {
		cfg := Default()
		cfg.Prometheus.Enabled = true
		if err := cfg.Validate(); err == nil {
			t.Fatal("enabled prometheus needs a url")
		}
	})

	t.Run("no workers", func(t *testing.T) {
		cfg := Default()
		cfg.Executor.Workers = 0
		if err := cfg.Validate(); err == nil {
			t.Fatal("zero workers must fail")
		}
	})
}

func TestEnvToKey(t *testing.T) {
	cases := map[string]string{
		"SERVER_PORT":   "server.port",
		"SERVER_HOST":   "server.host",
		"LOGGING_DEBUG": "logging.debug",
	}
	for in, want := range cases {
		if got := envToKey(in); got != want {
			t.Fatalf("envToKey(%q) = %q, want %q", in, got, want)
		}
	}
}
