package kube

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/kestrelhq/kestrel/internal/event"
)

// ReleaseLister returns the current Helm release state of the cluster.
type ReleaseLister interface {
	ListReleases(ctx context.Context) ([]event.HelmRelease, error)
}

// SecretReleaseLister reads Helm v3 release state from the driver secrets
// (type helm.sh/release.v1). Only the latest revision per release is kept.
type SecretReleaseLister struct {
	Client kubernetes.Interface
}

// helmReleaseDoc is the subset of the encoded release document we need.
type helmReleaseDoc struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Version   int    `json:"version"`
	Info      struct {
		Status       string    `json:"status"`
		LastDeployed time.Time `json:"last_deployed"`
	} `json:"info"`
	Chart struct {
		Metadata struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"metadata"`
	} `json:"chart"`
}

// ListReleases decodes every release secret and keeps the newest revision
// per (namespace, name).
func (l *SecretReleaseLister) ListReleases(ctx context.Context) ([]event.HelmRelease, error) {
	secrets, err := l.Client.CoreV1().Secrets("").List(ctx, metav1.ListOptions{
		LabelSelector: "owner=helm",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list helm release secrets: %w", err)
	}

	latest := make(map[string]event.HelmRelease)
	for _, secret := range secrets.Items {
		encoded, ok := secret.Data["release"]
		if !ok {
			continue
		}
		doc, err := decodeReleaseDoc(encoded)
		if err != nil {
			continue
		}
		release := event.HelmRelease{
			Name:         doc.Name,
			Namespace:    doc.Namespace,
			Status:       doc.Info.Status,
			ChartName:    doc.Chart.Metadata.Name,
			ChartVersion: doc.Chart.Metadata.Version,
			Revision:     doc.Version,
			LastDeployed: doc.Info.LastDeployed,
		}
		key := release.Namespace + "/" + release.Name
		if existing, seen := latest[key]; !seen || release.Revision > existing.Revision {
			latest[key] = release
		}
	}

	releases := make([]event.HelmRelease, 0, len(latest))
	for _, r := range latest {
		releases = append(releases, r)
	}
	return releases, nil
}

// decodeReleaseDoc unwraps base64, then gzip, then JSON.
func decodeReleaseDoc(encoded []byte) (*helmReleaseDoc, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(raw, encoded)
	if err != nil {
		return nil, err
	}
	raw = raw[:n]

	if len(raw) > 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		if raw, err = io.ReadAll(gz); err != nil {
			return nil, err
		}
	}

	var doc helmReleaseDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// HelmMonitorOptions configures the release poller.
type HelmMonitorOptions struct {
	Lister  ReleaseLister
	Handler EventHandler
	Period  time.Duration
	Logger  *slog.Logger
}

// HelmMonitor polls the cluster's Helm releases and emits one batch event
// per poll so release triggers can observe status transitions.
type HelmMonitor struct {
	lister  ReleaseLister
	handler EventHandler
	period  time.Duration
	log     *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewHelmMonitor creates a stopped monitor.
func NewHelmMonitor(opts HelmMonitorOptions) *HelmMonitor {
	period := opts.Period
	if period <= 0 {
		period = 60 * time.Second
	}
	return &HelmMonitor{
		lister:  opts.Lister,
		handler: opts.Handler,
		period:  period,
		log:     opts.Logger.With("component", "helm_monitor"),
		stop:    make(chan struct{}),
	}
}

// Start launches the polling loop.
func (m *HelmMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.poll(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts polling. Safe to call more than once.
func (m *HelmMonitor) Stop() {
	select {
	case <-m.stop:
		return
	default:
	}
	close(m.stop)
	m.wg.Wait()
}

func (m *HelmMonitor) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, m.period)
	defer cancel()

	releases, err := m.lister.ListReleases(pollCtx)
	if err != nil {
		m.log.Warn("helm release poll failed", "error", err)
		return
	}
	if len(releases) == 0 {
		return
	}
	m.handler.Enqueue(&event.HelmReleaseTick{
		Meta:     event.NewMeta(),
		Releases: releases,
	})
}
