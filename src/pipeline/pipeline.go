// Package pipeline assembles the collector's components from configuration.
// It is shared by every CLI command so they all see the same store, broker
// and lock.
package pipeline

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"build-collector/src/bamboo"
	"build-collector/src/broker"
	"build-collector/src/collector"
	"build-collector/src/config"
	"build-collector/src/lock"
	"build-collector/src/logger"
	"build-collector/src/schedule"
	"build-collector/src/store"
)

// Mode describes where coordination state lives.
type Mode int

const (
	// LocalMode uses an in-process lock and broker.
	LocalMode Mode = iota
	// DistributedMode coordinates through Redis and/or Redpanda so several
	// collector processes can share one store.
	DistributedMode
)

func (m Mode) String() string {
	if m == DistributedMode {
		return "distributed"
	}
	return "local"
}

// DetectMode reports DistributedMode when Redis or Redpanda is configured.
func DetectMode(cfg *config.Config) Mode {
	if cfg.Redis.Addr != "" || len(cfg.Broker.Brokers) > 0 {
		return DistributedMode
	}
	return LocalMode
}

// Pipeline holds the wired components. Close releases them.
type Pipeline struct {
	Mode   Mode
	Store  store.Store
	Broker broker.Broker
	Locker lock.Locker
	Engine *collector.Engine
	Runner *schedule.Runner

	redis  *redis.Client
	logger logger.Logger
}

// New opens the store, applies the schema for SQL drivers, connects the lock
// and broker backends, and builds the engine and runner.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*Pipeline, error) {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	p := &Pipeline{Mode: DetectMode(cfg), logger: log}

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, store.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Database.Driver, err)
	}
	p.Store = st

	if sqlStore, ok := st.(*store.SQLStore); ok {
		if err := sqlStore.Migrate(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to migrate store: %w", err)
		}
	}

	if err := p.connectLocker(ctx, cfg); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.connectBroker(ctx, cfg); err != nil {
		p.Close()
		return nil, err
	}

	client := bamboo.NewClient(cfg.Bamboo.Username, cfg.Bamboo.APIKey, cfg.Bamboo.Timeout)
	p.Engine = collector.NewEngine(collector.Deps{
		Gateway:    bamboo.NewGateway(client, log, cfg.Bamboo.MaxResults),
		Jobs:       st,
		Builds:     st,
		Components: st,
		Broker:     p.Broker,
		Logger:     log,
	}, collector.Options{
		CleanupInterval:     cfg.Collector.CleanupInterval,
		InstanceConcurrency: cfg.Collector.InstanceConcurrency,
	})

	p.Runner, err = schedule.NewRunner(p.Engine, st, p.Locker, log, schedule.Options{
		Name:         cfg.Collector.Name,
		InstanceURLs: cfg.Bamboo.Servers,
		Spec:         cfg.Collector.Cron,
		CycleTimeout: cfg.Collector.CycleTimeout,
	})
	if err != nil {
		p.Close()
		return nil, err
	}

	log.Debug("[Pipeline] %s mode, %s store", p.Mode, cfg.Database.Driver)
	return p, nil
}

func (p *Pipeline) connectLocker(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis.Addr == "" {
		p.Locker = lock.NewMemoryLocker()
		return nil
	}

	p.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := p.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	p.Locker = lock.NewRedisLocker(p.redis, cfg.Redis.LockTTL)
	return nil
}

func (p *Pipeline) connectBroker(ctx context.Context, cfg *config.Config) error {
	if len(cfg.Broker.Brokers) == 0 {
		p.Broker = broker.NewInMemoryBroker()
		return nil
	}

	rp, err := broker.NewRedpandaBroker(broker.RedpandaOptions{Brokers: cfg.Broker.Brokers}, p.logger)
	if err != nil {
		return fmt.Errorf("failed to create Redpanda broker: %w", err)
	}
	p.Broker = rp
	if err := rp.Ping(ctx); err != nil {
		p.logger.Error("[Pipeline] %v", err)
	}
	return nil
}

// Close shuts down the broker, the Redis client and the store.
func (p *Pipeline) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.Broker != nil {
		keep(p.Broker.Close())
	}
	if p.redis != nil {
		keep(p.redis.Close())
	}
	if p.Store != nil {
		keep(p.Store.Close())
	}
	return firstErr
}
