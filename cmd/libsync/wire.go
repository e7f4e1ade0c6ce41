package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"libsync/internal/library/feed"
	"libsync/internal/library/keys"
	"libsync/internal/library/lock"
	"libsync/internal/library/normalize"
	"libsync/internal/library/quality"
	"libsync/internal/library/store"
	"libsync/internal/library/syncrun"
	"libsync/internal/library/upsert"
	"libsync/internal/platform/database"
	"libsync/internal/platform/metrics"
	"libsync/internal/platform/redis"
)

// deps is the assembled pipeline plus everything that must be closed on exit.
type deps struct {
	store        store.Store
	pools        *database.Pools
	redis        *redis.Client
	kafka        *kgo.Client
	upserter     *upsert.Upserter
	purger       *upsert.Upserter
	orchestrator *syncrun.Orchestrator
	metrics      *metrics.Metrics
}

func (d *deps) Close() error {
	var errs []error
	if d.kafka != nil {
		d.kafka.Close()
	}
	if d.redis != nil {
		errs = append(errs, d.redis.Close())
	}
	if d.pools != nil {
		errs = append(errs, d.pools.Close())
	}
	return errors.Join(errs...)
}

func (a *app) buildStages() (syncrun.Stages, error) {
	mapping := normalize.DefaultMapping()
	if path := a.cfg.Sync.MappingFile; path != "" {
		m, err := normalize.LoadMapping(path)
		if err != nil {
			return syncrun.Stages{}, err
		}
		mapping = m
	}

	weights := quality.DefaultWeights()
	if path := a.cfg.Sync.WeightsFile; path != "" {
		w, err := quality.LoadWeights(path)
		if err != nil {
			return syncrun.Stages{}, err
		}
		weights = w
	}
	scorer, err := quality.NewScorer(weights)
	if err != nil {
		return syncrun.Stages{}, fmt.Errorf("quality weights: %w", err)
	}

	return syncrun.Stages{
		Normalizer: normalize.New(mapping),
		Deriver:    keys.NewDeriver(a.cfg.Sync.ResourceBase),
		Scorer:     scorer,
	}, nil
}

// buildDeps wires the pipeline. With memory set the run goes against an
// in-process store and no database is opened.
func (a *app) buildDeps(ctx context.Context, memory bool, syncOpts ...syncrun.Option) (_ *deps, err error) {
	d := &deps{metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	stages, err := a.buildStages()
	if err != nil {
		return nil, err
	}

	if memory {
		d.store = store.NewInMemoryStore().WithTxTimeout(a.cfg.Sync.TxTimeout)
		a.logger.WarnContext(ctx, "using in-memory store, nothing will be persisted")
	} else {
		if err := a.cfg.RequireDatabase(); err != nil {
			return nil, err
		}
		db := a.cfg.Database
		d.pools, err = database.OpenPools(ctx, db.URL, db.ReadURL, db.AdminURL, db.MaxOpenConns, db.MaxIdleConns)
		if err != nil {
			return nil, err
		}
		d.store = store.NewPostgres(d.pools.Write,
			store.WithReadDB(d.pools.Read),
			store.WithTxTimeout(a.cfg.Sync.TxTimeout),
		)
	}

	d.upserter = upsert.New(d.store, upsert.WithLogger(a.logger))
	d.purger = d.upserter
	if d.pools != nil && d.pools.Admin != d.pools.Write {
		d.purger = upsert.New(store.NewPostgres(d.pools.Admin, store.WithTxTimeout(a.cfg.Sync.TxTimeout)),
			upsert.WithLogger(a.logger))
	}

	locker, err := a.buildLocker(ctx, d)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx, d)
	if err != nil {
		return nil, err
	}

	opts := []syncrun.Option{
		syncrun.WithLogger(a.logger),
		syncrun.WithMetrics(d.metrics),
		syncrun.WithWorkers(a.cfg.Sync.Workers),
		syncrun.WithRunLock(locker, a.cfg.Sync.LockTTL),
		syncrun.WithPublisher(publisher),
	}
	d.orchestrator = syncrun.New(stages, d.upserter, d.store, append(opts, syncOpts...)...)
	return d, nil
}

func (a *app) buildLocker(ctx context.Context, d *deps) (lock.Locker, error) {
	client, err := redis.New(ctx, a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		a.logger.InfoContext(ctx, "redis not configured, run lock is process-local")
		return lock.NewLocalLocker(), nil
	}
	d.redis = client
	return lock.NewRedisLocker(client.Client, ""), nil
}

func (a *app) buildPublisher(ctx context.Context, d *deps) (syncrun.Publisher, error) {
	k := a.cfg.Kafka
	if len(k.Brokers) == 0 {
		return feed.Nop{}, nil
	}
	client, err := feed.NewClient(k.Brokers)
	if err != nil {
		return nil, err
	}
	d.kafka = client
	if k.EnsureTopics {
		if err := feed.EnsureTopics(ctx, client, int32(k.Partitions), int16(k.Replication), k.ChangesTopic, k.MetricsTopic); err != nil {
			return nil, err
		}
	}
	return feed.New(client, d.store, k.ChangesTopic, k.MetricsTopic,
		feed.WithLogger(a.logger),
		feed.WithMetrics(d.metrics),
		feed.WithTimeout(k.PublishWindow),
	), nil
}
