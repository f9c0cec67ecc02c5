package main

import (
	"context"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/pgguard/pgguard/align"
	"github.com/pgguard/pgguard/api"
	"github.com/pgguard/pgguard/cleanup"
	"github.com/pgguard/pgguard/daemon"
	"github.com/pgguard/pgguard/fence"
	"github.com/pgguard/pgguard/lease"
	"github.com/pgguard/pgguard/logger"
	"github.com/pgguard/pgguard/postgresql"
	"github.com/pgguard/pgguard/proxy"
	"github.com/pgguard/pgguard/replmgr"
	"github.com/pgguard/pgguard/statestore"
)

const promotionLockResource = "promotion"

var (
	nodeID   = kingpin.Flag("node-id", "stable numeric identity of this node").Required().Envar("PGGUARD_NODE_ID").Int()
	nodeName = kingpin.Flag("node-name", "name of this node as registered with the replication manager").Required().Envar("PGGUARD_NODE_NAME").String()

	pgDataFolder = kingpin.Flag("pgdata", "postgres main data folder").Required().Envar("PGDATA").String()
	extraFolder  = kingpin.Flag("pgextra", "folder for config templates and auxiliary files").Required().Envar("PGEXTRA").String()
	pgPort       = kingpin.Flag("pgport", "").Default("5432").Envar("PGPORT").Int()
	pgUser       = kingpin.Flag("pguser", "").Required().Envar("PGUSER").String()
	pgPassword   = kingpin.Flag("pgpassword", "").Required().Envar("PGPASSWORD").String()

	replicationUser     = kingpin.Flag("pgreplication-user", "").Default("replicator").Envar("PGREPLICATION_USER").String()
	replicationPassword = kingpin.Flag("pgreplication-user-password", "").Required().Envar("PGREPLICATION_USER_PASSWORD").String()

	replmgrBin     = kingpin.Flag("replmgr-bin", "replication manager binary").Default("repmgr").Envar("PGGUARD_REPLMGR_BIN").String()
	replmgrConfig  = kingpin.Flag("replmgr-config", "replication manager config file").Required().Envar("PGGUARD_REPLMGR_CONFIG").String()
	replmgrTimeout = kingpin.Flag("replmgr-timeout", "timeout for replication manager calls").Default("30s").Envar("PGGUARD_REPLMGR_TIMEOUT").Duration()

	stateDir     = kingpin.Flag("state-dir", "per-node state area (counters, locks, published state)").Required().Envar("PGGUARD_STATE_DIR").String()
	leaseBackend = kingpin.Flag("lease-backend", "promotion lock backend: filesystem, etcd or kubernetes").Default("filesystem").Envar("PGGUARD_LEASE_BACKEND").String()
	etcdCluster  = kingpin.Flag("etcd-cluster", "space-separated etcd endpoints").Default("").Envar("ETCD_CLUSTER").String()
	namespace    = kingpin.Flag("namespace", "kubernetes namespace for the lease object").Default("default").Envar("PGGUARD_NAMESPACE").String()

	lockTTL        = kingpin.Flag("lock-ttl", "staleness TTL of the promotion lock").Default("300s").Envar("PGGUARD_LOCK_TTL").Duration()
	lockTimeout    = kingpin.Flag("lock-timeout", "how long a promotion attempt waits for the lock").Default("60s").Envar("PGGUARD_LOCK_TIMEOUT").Duration()
	lockRetryDelay = kingpin.Flag("lock-retry-delay", "").Default("2s").Envar("PGGUARD_LOCK_RETRY_DELAY").Duration()

	maxLagSeconds   = kingpin.Flag("max-lag-seconds", "refuse promotion when own lag exceeds this, 0 disables").Default("0").Envar("PGGUARD_MAX_LAG_SECONDS").Int()
	minVisibleNodes = kingpin.Flag("min-visible-nodes", "refuse promotion with fewer visible standbys, 0 disables").Default("0").Envar("PGGUARD_MIN_VISIBLE_NODES").Int()

	pollInterval   = kingpin.Flag("poll-interval", "control loop cadence").Default("5s").Envar("PGGUARD_POLL_INTERVAL").Duration()
	healthInterval = kingpin.Flag("health-interval", "cadence of the health log line").Default("60s").Envar("PGGUARD_HEALTH_INTERVAL").Duration()

	cleanupInterval  = kingpin.Flag("cleanup-interval", "minimum gap between cleanup attempts").Default("30m").Envar("PGGUARD_CLEANUP_INTERVAL").Duration()
	cleanupThreshold = kingpin.Flag("cleanup-threshold", "consecutive unreachable polls before cleanup").Default("3").Envar("PGGUARD_CLEANUP_THRESHOLD").Int()
	cleanupAttempts  = kingpin.Flag("cleanup-retry-attempts", "").Default("3").Envar("PGGUARD_CLEANUP_RETRY_ATTEMPTS").Uint()
	cleanupDelay     = kingpin.Flag("cleanup-retry-delay", "base delay of the cleanup backoff").Default("5s").Envar("PGGUARD_CLEANUP_RETRY_DELAY").Duration()

	followCooldown = kingpin.Flag("follow-cooldown", "suppression window after a failed resynchronization").Default("600s").Envar("PGGUARD_FOLLOW_COOLDOWN").Duration()
	primaryHint    = kingpin.Flag("primary-hint", "fallback primary host when none is resolvable").Default("").Envar("PGGUARD_PRIMARY_HINT").String()

	apiPort  = kingpin.Flag("api-port", "").Default("8080").Envar("PGGUARD_API_PORT").String()
	logLevel = kingpin.Flag("log-level", "").Default("info").Envar("PGGUARD_LOG_LEVEL").String()
)

func main() {
	kingpin.Parse()

	instanceID := uuid.New()
	log := logger.NewDefaultLogger(*logLevel, "pgguard")
	log = log.WithField("instanceID", instanceID).WithField("node", *nodeName)
	log.Println("Starting pgguard")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		log.Infof("received %v, stopping after the current iteration", sig)
		cancel()
	}()

	manager := &replmgr.CLI{
		Bin:        *replmgrBin,
		ConfigFile: *replmgrConfig,
		Timeout:    *replmgrTimeout,
		Log:        log.WithField("subcomponent", "replmgr"),
	}

	topology := &proxy.TopologyProxy{
		Provider: manager,
		CB:       gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "topology"}),
		Log:      log.WithField("subcomponent", "topology"),
	}

	promotionLock := buildLock(ctx, instanceID.String(), log)

	postmaster := &postgresql.Postmaster{
		Config: postgresql.Config{
			DataDir:             *pgDataFolder,
			ExtraDir:            *extraFolder,
			Port:                *pgPort,
			ReplicationUsername: *replicationUser,
			ReplicationPassword: *replicationPassword,
			AdminUsername:       *pgUser,
			AdminPassword:       *pgPassword,
		},
		Log: log.WithField("subcomponent", "postmaster"),
	}

	// Wait for the local database at startup so the first cycles do not
	// misread a booting instance as broken. Not fatal: a node whose
	// database is down still runs the loop, the alignment engine deals
	// with the rest.
	if _, err := postmaster.ConnectWithRetry(ctx, 10); err != nil {
		log.Warningf("local postgres not reachable at startup: %v", err)
	}

	nodeStore := statestore.NewFilesystemStore(path.Join(*stateDir, "node-state"))
	publisher := statestore.Publisher{Path: path.Join(*stateDir, "cluster-state.json")}
	override := statestore.OverrideMarker{Path: path.Join(*stateDir, "promote-override")}

	gate := &fence.Gate{
		NodeID:   *nodeID,
		NodeName: *nodeName,
		Provider: topology,
		Lags:     manager,
		Promoter: manager,
		Local:    postmaster,
		Lock:     promotionLock,
		Override: override,
		Log:      log.WithField("subcomponent", "fence"),
		Config: fence.Config{
			LockTTL:         *lockTTL,
			LockTimeout:     *lockTimeout,
			LockRetryDelay:  *lockRetryDelay,
			MaxLagSeconds:   *maxLagSeconds,
			MinVisibleNodes: *minVisibleNodes,
		},
	}

	engine := &align.Engine{
		NodeName: *nodeName,
		DB:       postmaster,
		Resync:   manager,
		Gate:     gate,
		Blocks: statestore.FollowBlocks{
			Store:    nodeStore,
			Cooldown: *followCooldown,
		},
		Log: log.WithField("subcomponent", "align"),
	}

	cleaner := &cleanup.Controller{
		NodeName: *nodeName,
		Remover:  manager,
		Lock:     promotionLock,
		Counters: statestore.Counters{Store: nodeStore},
		Log:      log.WithField("subcomponent", "cleanup"),
		Config: cleanup.Config{
			Interval:      *cleanupInterval,
			Threshold:     *cleanupThreshold,
			PrimaryHint:   *primaryHint,
			LockTTL:       *lockTTL,
			RetryAttempts: *cleanupAttempts,
			RetryDelay:    *cleanupDelay,
		},
	}

	quitChan := make(chan int, 1)

	apiServer := api.Api{
		Topology:  topology,
		Gate:      gate,
		Override:  override,
		Publisher: publisher,
		Log:       log,
		QuitChan:  quitChan,
		Config: api.Config{
			Port:     *apiPort,
			NodeName: *nodeName,
		},
	}
	go apiServer.Start(ctx)

	d := daemon.Daemon{
		Topology:  topology,
		Engine:    engine,
		Cleanup:   cleaner,
		Publisher: publisher,
		Log:       log.WithField("subcomponent", "daemon"),
		QuitChan:  quitChan,
		Config: daemon.Config{
			PollInterval:   *pollInterval,
			HealthInterval: *healthInterval,
		},
	}

	if err := d.Start(ctx); err != nil {
		log.Fatal(err)
	}
}

func buildLock(ctx context.Context, holder string, log *logrus.Entry) lease.Lease {
	factory := lease.NewFactory(
		*stateDir,
		strings.Split(*etcdCluster, " "),
		*namespace,
		lease.Config{Resource: promotionLockResource, Holder: holder},
	)

	promotionLock := factory.Get(*leaseBackend)
	if promotionLock == nil {
		log.Fatalf("unknown lease backend %q", *leaseBackend)
	}

	switch backend := promotionLock.(type) {
	case *lease.Etcd:
		if err := retry.Do(func() error { return backend.Connect(ctx) }); err != nil {
			log.Fatalf("could not connect to etcd: %v", err)
		}
	case *lease.Kubernetes:
		if err := backend.Connect(ctx); err != nil {
			log.Fatalf("could not build kubernetes client: %v", err)
		}
	}

	return promotionLock
}
