package kube

import (
	"context"
	"strings"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ClusterProvider identifies the managed-Kubernetes flavor the process runs
// on. Some Prometheus triggers filter by provider.
type ClusterProvider string

const (
	ProviderGKE            ClusterProvider = "GKE"
	ProviderAKS            ClusterProvider = "AKS"
	ProviderEKS            ClusterProvider = "EKS"
	ProviderKind           ClusterProvider = "Kind"
	ProviderMinikube       ClusterProvider = "Minikube"
	ProviderRancherDesktop ClusterProvider = "RancherDesktop"
	ProviderKapsule        ClusterProvider = "Kapsule"
	ProviderKops           ClusterProvider = "Kops"
	ProviderUnknown        ClusterProvider = "Unknown"
)

// Discovery memoizes cluster provider detection for the process lifetime.
type Discovery struct {
	client kubernetes.Interface

	once     sync.Once
	provider ClusterProvider
}

// NewDiscovery builds a discovery service over the given clientset.
func NewDiscovery(client kubernetes.Interface) *Discovery {
	return &Discovery{client: client, provider: ProviderUnknown}
}

// Provider detects the cluster provider on first use and caches the answer.
// Detection probes node labels first, then kubelet version substrings, in a
// single pass over the node list.
func (d *Discovery) Provider(ctx context.Context) ClusterProvider {
	d.once.Do(func() {
		nodes, err := d.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{Limit: 10})
		if err != nil || len(nodes.Items) == 0 {
			return
		}
		for _, node := range nodes.Items {
			if p := providerFromLabels(node.Labels); p != ProviderUnknown {
				d.provider = p
				return
			}
			if p := providerFromKubeletVersion(node.Status.NodeInfo.KubeletVersion); p != ProviderUnknown {
				d.provider = p
				return
			}
		}
	})
	return d.provider
}

func providerFromLabels(labels map[string]string) ClusterProvider {
	switch {
	case hasLabelPrefix(labels, "cloud.google.com/"):
		return ProviderGKE
	case hasLabelPrefix(labels, "kubernetes.azure.com/"):
		return ProviderAKS
	case hasLabelPrefix(labels, "eks.amazonaws.com/"):
		return ProviderEKS
	case hasLabelPrefix(labels, "k8s.scaleway.com/"):
		return ProviderKapsule
	case labels["minikube.k8s.io/name"] != "":
		return ProviderMinikube
	case labels["kops.k8s.io/instancegroup"] != "":
		return ProviderKops
	}
	return ProviderUnknown
}

func providerFromKubeletVersion(version string) ClusterProvider {
	switch {
	case strings.Contains(version, "gke"):
		return ProviderGKE
	case strings.Contains(version, "eks"):
		return ProviderEKS
	case strings.Contains(version, "kind"):
		return ProviderKind
	case strings.Contains(version, "rancher-desktop"):
		return ProviderRancherDesktop
	}
	return ProviderUnknown
}

func hasLabelPrefix(labels map[string]string, prefix string) bool {
	for k := range labels {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}
