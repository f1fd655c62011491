// Command indexd runs the record-indexing daemon: the Block-Walk and
// Peer-Graph sync loops, the Query Engine, and the Publish Pipeline, wired
// against the configured storage backends. It exposes no HTTP router of
// its own — an explicit Non-goal — callers embed this package's Engines
// directly or front them with their own transport.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"oip.network/indexd/blockwalk"
	"oip.network/indexd/chainadapter"
	"oip.network/indexd/config"
	"oip.network/indexd/jobs"
	"oip.network/indexd/logging"
	"oip.network/indexd/peeradapter"
	"oip.network/indexd/peersync"
	"oip.network/indexd/publish"
	"oip.network/indexd/query"
	"oip.network/indexd/resource"
	"oip.network/indexd/store"
	"oip.network/indexd/supervisor"
	"oip.network/indexd/template"
)

// Daemon bundles the engines a caller embedding this package actually
// wants to drive: Query for reads, Publish for writes, Jobs for polling
// async publish status.
type Daemon struct {
	Query   *query.Engine
	Publish *publish.Engine
	Jobs    *jobs.Tracker

	supervisor *supervisor.Supervisor
}

// Run blocks until ctx is cancelled, running every background task
// (block-walk, peer-sync, job sweep, pool recyclers) under supervision.
func (d *Daemon) Run(ctx context.Context) {
	d.supervisor.Run(ctx)
}

func main() {
	cfg := config.Load()
	logging.Configure(cfg.LogLevel, cfg.LogFormat)
	log := logging.New("main")

	if err := cfg.Validate(); err != nil {
		log.Errorf("invalid configuration: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	daemon, err := build(ctx, cfg)
	if err != nil {
		log.Errorf("failed to initialize indexd: %v", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		daemon.Run(ctx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received, stopping background tasks")
	cancel()

	select {
	case <-done:
		log.Info("shutdown complete")
	case <-time.After(30 * time.Second):
		log.Warn("timed out waiting for background tasks to stop")
	}
}

// build wires every component per SPEC_FULL.md's module graph: config ->
// store -> adapters -> sync loops -> query/publish engines.
func build(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	keys, err := loadNodeKeys(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading node keys: %w", err)
	}

	st, err := store.New(ctx, store.Config{
		CouchDBURL:  cfg.CouchDBURL,
		PostgresDSN: cfg.PostgresDSN,
		RedisURL:    cfg.RedisURL,
		Neo4jURL:    cfg.Neo4jURL,
		Neo4jUser:   cfg.Neo4jUser,
		Neo4jPass:   cfg.Neo4jPass,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	chainPool := resource.NewPool("blockchain-gateway", 16, 30*time.Second)
	chain := chainadapter.New(&chainadapter.HTTPGateway{BaseURL: cfg.BlockchainGatewayURL, Pool: chainPool}, cfg.SystemTag)

	templates := template.NewRegistry(512, newStoreChainLoader(st, chain))

	peerPool := resource.NewPool("peer-graph", 16, cfg.HTTPClientRecycle)
	var peerCache peeradapter.Cache
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url for peer-graph cache: %w", err)
		}
		peerCache = &peeradapter.RedisCache{Client: redis.NewClient(redisOpts)}
	}
	peer := peeradapter.New(
		&peeradapter.HTTPGraph{BaseURL: firstOrEmpty(cfg.PeerList), Pool: peerPool},
		peerCache,
		peeradapter.NaclKeyDeriver{},
		peeradapter.NaclCipher{},
		keys.hexSecret,
	)

	var mirror publish.ExternalMirror
	if cfg.S3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config for external mirror: %w", err)
		}
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			}
		})
		mirror = publish.NewS3Mirror(s3Client, cfg.S3Bucket)
	}

	walker := blockwalk.New(chain, st, templates, 30*time.Second, "")

	peers := make([]peersync.Peer, 0, len(cfg.PeerList))
	for i, url := range cfg.PeerList {
		peers = append(peers, peersync.Peer{
			ID:          fmt.Sprintf("peer-%d", i),
			Client:      &peersync.HTTPPeerClient{BaseURL: url, Pool: peerPool},
			RecordTypes: []string{"basic"},
		})
	}
	syncer := peersync.New(peers, st, templates, cfg.PeerSyncInterval, peerPool)

	jobTracker := jobs.New(1000)

	var signer publish.Signer = publish.NoopSigner{}
	if len(keys.signingKey) > 0 {
		signer = publish.Ed25519Signer{PrivateKey: keys.signingKey}
	}
	publishEngine := publish.New(chain, peer, mirror, st, templates, jobTracker, signer)

	queryEngine := query.New(st)

	sup := supervisor.New()
	sup.Add("blockwalk", walker.Run)
	sup.Add("peersync", syncer.Run)
	sup.Add("job-sweep", supervisor.StopChan(jobTracker.RunSweep))
	sup.Add("blockchain-pool-recycler", supervisor.StopChan(func(stop <-chan struct{}) {
		chainPool.StartRecycler(cfg.HTTPClientRecycle, stop)
		<-stop
	}))
	sup.Add("peer-pool-recycler", supervisor.StopChan(func(stop <-chan struct{}) {
		peerPool.StartRecycler(cfg.HTTPClientRecycle, stop)
		<-stop
	}))

	return &Daemon{Query: queryEngine, Publish: publishEngine, Jobs: jobTracker, supervisor: sup}, nil
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
