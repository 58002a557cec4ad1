package kube

import (
	"context"
	"log/slog"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const namespaceLabelsTTL = 5 * time.Minute

// NamespaceLabels caches namespace label lookups for sink scope matching.
// Entries expire so label edits propagate without a restart.
type NamespaceLabels struct {
	client kubernetes.Interface
	ttl    time.Duration
	log    *slog.Logger

	mu      sync.Mutex
	entries map[string]namespaceEntry
}

type namespaceEntry struct {
	labels  map[string]string
	fetched time.Time
}

// NewNamespaceLabels builds the cache over the given clientset. A
// non-positive ttl selects the default.
func NewNamespaceLabels(client kubernetes.Interface, ttl time.Duration, log *slog.Logger) *NamespaceLabels {
	if ttl <= 0 {
		ttl = namespaceLabelsTTL
	}
	return &NamespaceLabels{
		client:  client,
		ttl:     ttl,
		log:     log.With("component", "namespace_labels"),
		entries: make(map[string]namespaceEntry),
	}
}

// Labels returns the namespace's labels, or nil when the lookup fails. A
// failed lookup is not cached, so the next caller retries.
func (c *NamespaceLabels) Labels(namespace string) map[string]string {
	c.mu.Lock()
	if e, ok := c.entries[namespace]; ok && time.Since(e.fetched) < c.ttl {
		c.mu.Unlock()
		return e.labels
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ns, err := c.client.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err != nil {
		c.log.Warn("namespace label lookup failed", "namespace", namespace, "error", err)
		return nil
	}
	labels := ns.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	c.mu.Lock()
	c.entries[namespace] = namespaceEntry{labels: labels, fetched: time.Now()}
	c.mu.Unlock()
	return labels
}
