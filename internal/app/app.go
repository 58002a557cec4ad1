// Package app wires the runner's components together: configuration, cluster
// clients, the playbook registry, the executor pipeline and the HTTP ingress.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/knadh/koanf/providers/file"
	"github.com/redis/go-redis/v9"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kestrelhq/kestrel/internal/config"
	"github.com/kestrelhq/kestrel/internal/event"
	"github.com/kestrelhq/kestrel/internal/executor"
	"github.com/kestrelhq/kestrel/internal/kube"
	"github.com/kestrelhq/kestrel/internal/promclient"
	"github.com/kestrelhq/kestrel/internal/sched"
	"github.com/kestrelhq/kestrel/internal/server"
	"github.com/kestrelhq/kestrel/internal/sinks"
	"github.com/kestrelhq/kestrel/internal/throttle"
	"github.com/kestrelhq/kestrel/internal/trigger"
	"github.com/kestrelhq/kestrel/pkg/logger"
)

// App represents the core application context, holding dependencies and
// configuration.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	kubeClient    kubernetes.Interface
	dynamicClient dynamic.Interface
	discovery     *kube.Discovery
	nsLabels      *kube.NamespaceLabels

	holder    *trigger.Holder
	router    *routerHolder
	executor  *executor.Executor
	scheduler *sched.Scheduler
	watcher   *kube.Watcher
	helm      *kube.HelmMonitor
	server    *server.Server

	redisClient  *redis.Client
	playbookFile *file.File
	scheduledIDs []string

	BuildInfo string
	Version   string
}

// Options contains configuration needed when creating a new App instance.
type Options struct {
	ConfigPath string
	BuildInfo  string
	Version    string
}

// routerHolder lets a config reload swap the sink router atomically while
// in-flight playbook runs keep dispatching.
type routerHolder struct {
	current atomic.Pointer[sinks.Router]
}

func (h *routerHolder) Dispatch(base *event.Base) {
	if r := h.current.Load(); r != nil {
		r.Dispatch(base)
	}
}

// New creates and configures a new App instance.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &App{
		Config:    cfg,
		Logger:    logger.New(cfg.Logging.Debug),
		BuildInfo: opts.BuildInfo,
		Version:   opts.Version,
	}, nil
}

// Initialize sets up cluster clients, the action registry, the playbook
// registry and all pipeline components. A config load error here is fatal.
func (a *App) Initialize(ctx context.Context) error {
	if err := a.initKubeClients(); err != nil {
		return err
	}
	a.discovery = kube.NewDiscovery(a.kubeClient)
	a.nsLabels = kube.NewNamespaceLabels(a.kubeClient, 0, a.Logger)

	runtime := &executor.Runtime{
		Logger:      a.Logger,
		Limiter:     a.initLimiter(),
		Kube:        a.kubeClient,
		Discovery:   a.discovery,
		AccountID:   a.Config.Identity.AccountID,
		ClusterName: a.Config.Identity.ClusterName,
		SigningKey:  a.Config.Identity.SigningKey,
	}

	if a.Config.Prometheus.Enabled {
		prom, err := promclient.New(promclient.Options{
			URL:     a.Config.Prometheus.URL,
			Timeout: a.Config.Prometheus.RequestTimeout,
			Logger:  a.Logger,
			Auth:    promclient.AuthConfig{BearerToken: a.Config.Prometheus.Auth},
		})
		if err != nil {
			return fmt.Errorf("failed to initialize prometheus client: %w", err)
		}
		runtime.Prometheus = prom

		if a.Config.Prometheus.AlertmanagerURL != "" {
			am, err := promclient.NewAlertmanagerClient(promclient.AlertmanagerOptions{
				URL:                    a.Config.Prometheus.AlertmanagerURL,
				Logger:                 a.Logger,
				Auth:                   promclient.AuthConfig{BearerToken: a.Config.Prometheus.Auth},
				GrafanaProxyDatasource: a.Config.Prometheus.GrafanaDSUID,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize alertmanager client: %w", err)
			}
			runtime.Alertmanager = am
		}
	}

	actions := executor.NewActionRegistry()
	executor.RegisterBuiltinActions(actions)

	a.holder = trigger.NewHolder(trigger.NewRegistry(nil))
	a.router = &routerHolder{}

	a.executor = executor.New(executor.Options{
		Registry:      actions,
		Holder:        a.holder,
		Runtime:       runtime,
		Router:        a.router,
		Logger:        a.Logger,
		Workers:       a.Config.Executor.Workers,
		QueueSize:     a.Config.Executor.QueueSize,
		ActionTimeout: a.Config.Executor.ActionTimeout,
		RunTimeout:    a.Config.Executor.RunTimeout,
	})

	a.scheduler = sched.New(a.executor, a.Logger)

	a.watcher = kube.NewWatcher(kube.WatcherOptions{
		Client:       a.dynamicClient,
		Handler:      a.executor,
		Logger:       a.Logger,
		QueueSize:    a.Config.Kubernetes.WatchQueueSize,
		ResyncPeriod: a.Config.Kubernetes.ResyncPeriod,
	})

	if err := a.loadPlaybooks(ctx); err != nil {
		return fmt.Errorf("failed to load playbooks: %w", err)
	}
	if a.Config.Playbooks.Watch {
		a.watchPlaybookFile(ctx)
	}

	a.server = server.New(server.Options{
		Logger:     a.Logger,
		Pipeline:   a.executor,
		SigningKey: a.Config.Identity.SigningKey,
		Host:       a.Config.Server.Host,
		Port:       a.Config.Server.Port,
		Version:    a.Version,
	})

	return nil
}

// Start launches the pipeline and serves HTTP until Shutdown.
func (a *App) Start(ctx context.Context) error {
	if a.server == nil {
		return fmt.Errorf("app not initialized")
	}

	a.executor.Start(ctx)
	a.scheduler.Start()
	if err := a.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start kubernetes watcher: %w", err)
	}

	a.Logger.Info("starting runner",
		"cluster", a.Config.Identity.ClusterName, "version", a.Version)
	return a.server.Start()
}

// Shutdown gracefully stops all components. Ingress closes first so no new
// events arrive, then the pipeline drains front to back.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down")

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()
	}

	if a.playbookFile != nil {
		if err := a.playbookFile.Unwatch(); err != nil {
			a.Logger.Warn("failed to stop playbook file watch", "error", err)
		}
	}

	if a.server != nil {
		serverCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.server.Shutdown(serverCtx); err != nil {
			a.Logger.Error("error shutting down http server", "error", err)
		}
		cancel()
	}

	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.helm != nil {
		a.helm.Stop()
	}
	if a.executor != nil {
		a.executor.Stop()
	}
	if a.router != nil {
		if r := a.router.current.Load(); r != nil {
			r.Stop()
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.Logger.Warn("error closing redis client", "error", err)
		}
	}

	a.Logger.Info("shutdown complete")
	return nil
}

func (a *App) initKubeClients() error {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		restConfig, err = clientcmd.BuildConfigFromFlags("", a.Config.Kubernetes.Kubeconfig)
		if err != nil {
			return fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}
	if a.kubeClient, err = kubernetes.NewForConfig(restConfig); err != nil {
		return fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	if a.dynamicClient, err = dynamic.NewForConfig(restConfig); err != nil {
		return fmt.Errorf("failed to create dynamic client: %w", err)
	}
	return nil
}

// initLimiter picks the shared Redis store when configured, in-process
// striping otherwise.
func (a *App) initLimiter() throttle.Limiter {
	if a.Config.Redis.Address == "" {
		return throttle.NewLocal()
	}
	a.redisClient = redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	a.Logger.Info("using redis rate limiter", "addr", a.Config.Redis.Address)
	return throttle.NewRedis(a.redisClient, a.Logger)
}

// loadPlaybooks compiles the playbook document and swaps registry, sinks and
// scheduled jobs atomically. On reload failure the previous state stays live.
func (a *App) loadPlaybooks(ctx context.Context) error {
	doc, err := config.LoadPlaybooksDocument(a.Config.Playbooks.Path)
	if err != nil {
		return err
	}

	compiled, err := config.CompilePlaybooks(doc, trigger.ResolverForDiscovery(a.discovery), a.Logger)
	if err != nil {
		return err
	}

	sinkList := make([]sinks.Sink, 0, len(doc.SinksConfig))
	for _, def := range doc.SinksConfig {
		sink, err := sinks.BuildSink(def, a.Config.Identity.ClusterName, a.Logger)
		if err != nil {
			return err
		}
		sinkList = append(sinkList, sink)
	}
	router, err := sinks.NewRouter(sinks.RouterOptions{
		Sinks:           sinkList,
		Logger:          a.Logger,
		DrainTimeout:    a.Config.Sinks.DrainTimeout,
		MailboxCapacity: a.Config.Sinks.MailboxCapacity,
		Namespaces:      a.nsLabels,
	})
	if err != nil {
		return err
	}

	// Swap order matters: registry first so new events match against the new
	// playbooks, then sinks.
	a.holder.Swap(trigger.NewRegistry(compiled.Playbooks))

	router.Start(ctx)
	if old := a.router.current.Swap(router); old != nil {
		old.Stop()
	}

	a.armScheduledJobs(compiled.ScheduledJobs)
	a.syncHelmMonitor(ctx, compiled.NeedsHelmMonitor)

	a.Logger.Info("playbooks loaded",
		"playbooks", len(compiled.Playbooks), "sinks", len(sinkList),
		"scheduled_jobs", len(compiled.ScheduledJobs))
	return nil
}

// armScheduledJobs reconciles scheduler state against the compiled document:
// jobs absent from the new document are unscheduled, the rest are replaced.
func (a *App) armScheduledJobs(jobs []config.ScheduledJob) {
	next := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		next[j.TaskID] = struct{}{}
	}
	for _, id := range a.scheduledIDs {
		if _, keep := next[id]; !keep {
			a.scheduler.Unschedule(id)
		}
	}

	a.scheduledIDs = a.scheduledIDs[:0]
	for _, j := range jobs {
		var err error
		switch {
		case j.Params.Cron != "":
			err = a.scheduler.ScheduleCron(j.TaskID, j.Params.Cron, true)
		case len(j.Params.DynamicDelaySeconds) > 0:
			err = a.scheduler.ScheduleDynamicDelays(j.TaskID, j.Params.DynamicDelays(), true)
		default:
			delay := time.Duration(j.Params.FixedDelaySeconds) * time.Second
			err = a.scheduler.ScheduleFixedDelay(j.TaskID, delay, true)
		}
		if err != nil {
			a.Logger.Error("failed to arm scheduled job", "task_id", j.TaskID, "error", err)
			continue
		}
		a.scheduledIDs = append(a.scheduledIDs, j.TaskID)
	}
}

func (a *App) syncHelmMonitor(ctx context.Context, needed bool) {
	if !needed || !a.Config.Kubernetes.HelmMonitorEnabled {
		if a.helm != nil {
			a.helm.Stop()
			a.helm = nil
		}
		return
	}
	if a.helm != nil {
		return
	}
	a.helm = kube.NewHelmMonitor(kube.HelmMonitorOptions{
		Lister:  &kube.SecretReleaseLister{Client: a.kubeClient},
		Handler: a.executor,
		Period:  a.Config.Kubernetes.HelmMonitorPeriod,
		Logger:  a.Logger,
	})
	a.helm.Start(ctx)
}

// watchPlaybookFile reloads the playbook document when it changes on disk.
// A broken edit logs an error and keeps the previous registry live.
func (a *App) watchPlaybookFile(ctx context.Context) {
	a.playbookFile = file.Provider(a.Config.Playbooks.Path)
	err := a.playbookFile.Watch(func(_ interface{}, err error) {
		if err != nil {
			a.Logger.Error("playbook file watch error", "error", err)
			return
		}
		a.Logger.Info("playbook file changed, reloading")
		if err := a.loadPlaybooks(ctx); err != nil {
			a.Logger.Error("playbook reload failed, keeping previous configuration", "error", err)
		}
	})
	if err != nil {
		a.Logger.Warn("failed to watch playbook file, reload disabled", "error", err)
	}
}
