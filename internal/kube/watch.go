package kube

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/dynamic/dynamicinformer"
	"k8s.io/client-go/tools/cache"

	"github.com/kestrelhq/kestrel/internal/event"
)

// WatchedKind binds a short kind name to the resource the informer watches.
type WatchedKind struct {
	Kind string
	GVR  schema.GroupVersionResource
}

// DefaultWatchedKinds covers the built-in resource kinds of interest.
// Additional CRDs can be registered before Start.
var DefaultWatchedKinds = []WatchedKind{
	{"pod", schema.GroupVersionResource{Version: "v1", Resource: "pods"}},
	{"node", schema.GroupVersionResource{Version: "v1", Resource: "nodes"}},
	{"service", schema.GroupVersionResource{Version: "v1", Resource: "services"}},
	{"configmap", schema.GroupVersionResource{Version: "v1", Resource: "configmaps"}},
	{"persistentvolumeclaim", schema.GroupVersionResource{Version: "v1", Resource: "persistentvolumeclaims"}},
	{"namespace", schema.GroupVersionResource{Version: "v1", Resource: "namespaces"}},
	{"event", schema.GroupVersionResource{Version: "v1", Resource: "events"}},
	{"deployment", schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}},
	{"daemonset", schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "daemonsets"}},
	{"statefulset", schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "statefulsets"}},
	{"replicaset", schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "replicasets"}},
	{"job", schema.GroupVersionResource{Group: "batch", Version: "v1", Resource: "jobs"}},
	{"horizontalpodautoscaler", schema.GroupVersionResource{Group: "autoscaling", Version: "v2", Resource: "horizontalpodautoscalers"}},
	{"ingress", schema.GroupVersionResource{Group: "networking.k8s.io", Version: "v1", Resource: "ingresses"}},
}

// EventHandler receives normalized change events from the watcher.
type EventHandler interface {
	Enqueue(ev event.TriggerEvent)
}

// WatcherOptions configures the change watcher.
type WatcherOptions struct {
	Client       dynamic.Interface
	Handler      EventHandler
	Logger       *slog.Logger
	Kinds        []WatchedKind
	QueueSize    int
	ResyncPeriod time.Duration
}

// Watcher runs one shared informer per watched kind and forwards changes as
// K8sChange events. Each kind has a bounded queue; overflow drops the oldest
// event and bumps a counter, so a burst on one kind cannot stall the rest.
type Watcher struct {
	client  dynamic.Interface
	handler EventHandler
	log     *slog.Logger
	kinds   []WatchedKind

	queueSize    int
	resyncPeriod time.Duration

	factory dynamicinformer.DynamicSharedInformerFactory
	queues  map[string]chan *event.K8sChange
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher constructs a watcher; Start must be called to begin delivery.
func NewWatcher(opts WatcherOptions) *Watcher {
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = DefaultWatchedKinds
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 500
	}
	resync := opts.ResyncPeriod
	if resync <= 0 {
		resync = 15 * time.Minute
	}
	return &Watcher{
		client:       opts.Client,
		handler:      opts.Handler,
		log:          opts.Logger.With("component", "kube_watcher"),
		kinds:        kinds,
		queueSize:    queueSize,
		resyncPeriod: resync,
		queues:       make(map[string]chan *event.K8sChange),
		stop:         make(chan struct{}),
	}
}

// Start registers informers for every watched kind and launches the per-kind
// forwarding workers. It blocks until the initial caches sync or ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	w.factory = dynamicinformer.NewDynamicSharedInformerFactory(w.client, w.resyncPeriod)

	for _, wk := range w.kinds {
		queue := make(chan *event.K8sChange, w.queueSize)
		w.queues[wk.Kind] = queue

		kind := wk.Kind
		informer := w.factory.ForResource(wk.GVR).Informer()
		_, err := informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
			AddFunc: func(obj any) {
				w.publish(kind, event.OpAdd, nil, asUnstructured(obj))
			},
			UpdateFunc: func(oldObj, newObj any) {
				oldU, newU := asUnstructured(oldObj), asUnstructured(newObj)
				// Informer resyncs re-deliver unchanged objects; a stable
				// resourceVersion means nothing actually changed.
				if oldU != nil && newU != nil && oldU.GetResourceVersion() == newU.GetResourceVersion() {
					return
				}
				w.publish(kind, event.OpUpdate, oldU, newU)
			},
			DeleteFunc: func(obj any) {
				if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
					obj = tombstone.Obj
				}
				w.publish(kind, event.OpDelete, asUnstructured(obj), nil)
			},
		})
		if err != nil {
			return err
		}

		w.wg.Add(1)
		go w.forward(kind, queue)
	}

	w.factory.Start(w.stop)
	for gvr, synced := range w.factory.WaitForCacheSync(w.stop) {
		if !synced {
			w.log.Warn("informer cache did not sync", "resource", gvr.String())
		}
	}
	w.log.Info("kubernetes watcher started", "kinds", len(w.kinds))

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop halts the informers and forwarding workers.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
	}
	close(w.stop)
	w.wg.Wait()
}

// publish enqueues a change onto the per-kind queue, dropping the oldest
// entry when full.
func (w *Watcher) publish(kind string, op event.Operation, old, new *unstructured.Unstructured) {
	change := &event.K8sChange{
		Meta:      event.NewMeta(),
		Operation: op,
		Kind:      kind,
		Old:       old,
		New:       new,
	}
	queue := w.queues[kind]
	for {
		select {
		case queue <- change:
			return
		default:
		}
		select {
		case dropped := <-queue:
			metrics.GetOrCreateCounter(`kestrel_watch_events_dropped_total{kind="` + kind + `"}`).Inc()
			w.log.Warn("watch queue full, dropping oldest event",
				"kind", kind, "dropped_event_id", dropped.EventID())
		default:
		}
	}
}

func (w *Watcher) forward(kind string, queue chan *event.K8sChange) {
	defer w.wg.Done()
	for {
		select {
		case change := <-queue:
			w.handler.Enqueue(change)
		case <-w.stop:
			return
		}
	}
}

func asUnstructured(obj any) *unstructured.Unstructured {
	u, _ := obj.(*unstructured.Unstructured)
	return u
}
