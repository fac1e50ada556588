// Package agent wires the full instance together: shared store, lock,
// election, intent replication, media backends, synchronizer and the
// control API.
package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	config "cuewise/configs"
	"cuewise/pkg/api"
	"cuewise/pkg/cluster"
	"cuewise/pkg/election"
	"cuewise/pkg/history"
	"cuewise/pkg/intent"
	"cuewise/pkg/kv"
	kvetcd "cuewise/pkg/kv/etcd"
	kvmemory "cuewise/pkg/kv/memory"
	kvredis "cuewise/pkg/kv/redis"
	"cuewise/pkg/lock"
	locketcd "cuewise/pkg/lock/etcd"
	lockmemory "cuewise/pkg/lock/memory"
	locknone "cuewise/pkg/lock/none"
	"cuewise/pkg/logger"
	"cuewise/pkg/media"
	"cuewise/pkg/media/ambient"
	"cuewise/pkg/media/embed"
	"cuewise/pkg/resume"
	"cuewise/pkg/routine"
	"cuewise/pkg/syncer"
	"cuewise/pkg/version"
)

// Agent is one running instance.
type Agent struct {
	cfg        *config.Config
	log        *zap.Logger
	instanceID string

	store      kv.Store
	locker     lock.Locker
	etcdClient *clientv3.Client // set when the lock dialed its own etcd

	intents  *intent.Store
	tracker  *resume.Tracker
	election *election.Service
	sync     *syncer.Syncer
	registry *cluster.Registry
	journal  history.Store
	recorder *history.Recorder
	routines *routine.Runner
	server   *api.Server
}

// New builds an agent from configuration. Nothing starts running until
// Run.
func New(cfg *config.Config) (*Agent, error) {
	hostname, _ := os.Hostname()
	instanceID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

	a := &Agent{
		cfg:        cfg,
		log:        logger.Named("agent").With(zap.String("instance", instanceID)),
		instanceID: instanceID,
	}

	if err := a.buildStore(); err != nil {
		return nil, err
	}
	if err := a.buildLocker(); err != nil {
		a.store.Close()
		return nil, err
	}

	ns := cfg.Instance.Namespace
	a.intents = intent.NewStore(a.store, ns, instanceID)
	a.tracker = resume.NewTracker(a.store, ns,
		config.ParseDuration(cfg.Resume.WriteInterval, resume.DefaultWriteInterval))

	a.election = election.New(a.locker, cfg.Lock.Name,
		election.WithInstanceID(instanceID),
		election.WithOnAcquired(func() { a.sync.HandleLeadershipAcquired() }),
		election.WithOnLost(func() { a.sync.HandleLeadershipLost() }),
	)

	backends := media.NewSelector(
		ambient.New(),
		embed.New(embed.Config{
			RendererURL:    cfg.Media.Embed.RendererURL,
			CommandTimeout: config.ParseDuration(cfg.Media.Embed.CommandTimeout, 5*time.Second),
			PollInterval:   config.ParseDuration(cfg.Media.Embed.PollInterval, 2*time.Second),
		}),
	)
	a.sync = syncer.New(a.election, a.intents, a.tracker, backends,
		syncer.WithStartTimeout(config.ParseDuration(cfg.Sync.StartTimeout, syncer.DefaultStartTimeout)))

	a.registry = cluster.New(a.store, ns, instanceID, version.Version,
		cluster.DefaultTTL, a.election.IsLeader)

	if err := a.buildHistory(); err != nil {
		a.locker.Close()
		a.store.Close()
		return nil, err
	}
	a.recorder = history.NewRecorder(a.journal, a.intents, a.election, instanceID)

	if len(cfg.Routines) > 0 {
		runner, err := routine.NewRunner(cfg.Routines, a.intents, a.election)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.routines = runner
	}

	a.server = api.NewServer(api.Config{
		Port:              cfg.API.Port,
		APIKey:            cfg.API.APIKey,
		RequestsPerMinute: cfg.API.RequestsPerMinute,
		Intents:           a.intents,
		Tracker:           a.tracker,
		Election:          a.election,
		Syncer:            a.sync,
		Registry:          a.registry,
		History:           a.journal,
		Routines:          a.routines,
		Store:             a.store,
	})

	return a, nil
}

// InstanceID returns this agent's generated identity.
func (a *Agent) InstanceID() string {
	return a.instanceID
}

func (a *Agent) buildStore() error {
	switch a.cfg.Store.Driver {
	case "etcd", "":
		store, err := kvetcd.New(kvetcd.Config{
			Endpoints:   a.cfg.Store.Etcd.Endpoints,
			DialTimeout: config.ParseDuration(a.cfg.Store.Etcd.DialTimeout, 5*time.Second),
		})
		if err != nil {
			return fmt.Errorf("failed to build etcd store: %w", err)
		}
		a.store = store
		return nil
	case "redis":
		store, err := kvredis.New(kvredis.DefaultConfig(a.cfg.Store.Redis.Addr))
		if err != nil {
			return fmt.Errorf("failed to build redis store: %w", err)
		}
		a.store = store
		return nil
	case "memory":
		a.store = kvmemory.New()
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
}

func (a *Agent) buildLocker() error {
	switch a.cfg.Lock.Driver {
	case "etcd", "":
		// Share the store's connection when it is also etcd.
		if store, ok := a.store.(*kvetcd.Store); ok {
			a.locker = locketcd.New(store.Client(), a.cfg.Lock.TTL)
			return nil
		}
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   a.cfg.Store.Etcd.Endpoints,
			DialTimeout: config.ParseDuration(a.cfg.Store.Etcd.DialTimeout, 5*time.Second),
		})
		if err != nil {
			return fmt.Errorf("failed to connect lock client: %w", err)
		}
		a.etcdClient = client
		a.locker = locketcd.New(client, a.cfg.Lock.TTL)
		return nil
	case "memory":
		a.locker = lockmemory.New()
		return nil
	case "none":
		a.locker = locknone.New()
		return nil
	default:
		return fmt.Errorf("unknown lock driver %q", a.cfg.Lock.Driver)
	}
}

func (a *Agent) buildHistory() error {
	if a.cfg.History.DSN == "" {
		a.journal = history.NewMemoryStore()
		return nil
	}
	journal, err := history.NewPostgresStore(a.cfg.History.DSN)
	if err != nil {
		return fmt.Errorf("failed to build history store: %w", err)
	}
	a.journal = journal
	return nil
}

// Run starts every component and blocks until ctx is cancelled, then
// shuts down in dependency order.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("starting agent",
		zap.String("version", version.Version),
		zap.String("namespace", a.cfg.Instance.Namespace),
		zap.String("store", a.cfg.Store.Driver),
		zap.String("lock", a.cfg.Lock.Driver))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	syncDone := make(chan error, 1)
	go func() { syncDone <- a.sync.Run(runCtx) }()

	go a.registry.Run(runCtx)

	go func() {
		if err := a.recorder.Run(runCtx); err != nil {
			a.log.Warn("history recorder stopped", zap.Error(err))
		}
	}()

	if a.routines != nil {
		go a.routines.Run(runCtx)
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- a.server.Start() }()

	a.election.Start(runCtx)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = fmt.Errorf("api server failed: %w", err)
	case err := <-syncDone:
		if err != nil {
			runErr = fmt.Errorf("synchronizer failed: %w", err)
		}
	}

	a.log.Info("stopping agent")

	// Release leadership first so a peer can take over while we drain.
	a.election.Stop()
	cancel()

	select {
	case <-syncDone:
	case <-time.After(10 * time.Second):
		a.log.Warn("synchronizer did not stop in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("api shutdown failed", zap.Error(err))
	}

	a.Close()
	return runErr
}

// Close releases connections. Safe after a failed New.
func (a *Agent) Close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("failed to close history store", zap.Error(err))
		}
	}
	if a.locker != nil {
		if err := a.locker.Close(); err != nil {
			a.log.Warn("failed to close locker", zap.Error(err))
		}
	}
	if a.etcdClient != nil {
		a.etcdClient.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("failed to close store", zap.Error(err))
		}
	}
}
