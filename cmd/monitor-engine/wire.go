package main

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/cache"
	config "github.com/NordCoder/Pulsewatch/internal/config/monitor-engine"
	"github.com/NordCoder/Pulsewatch/internal/domain/bus"
	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
	"github.com/NordCoder/Pulsewatch/internal/notify"
	"github.com/NordCoder/Pulsewatch/internal/obs"
	"github.com/NordCoder/Pulsewatch/internal/obs/retry"
	"github.com/NordCoder/Pulsewatch/internal/outbox"
	"github.com/NordCoder/Pulsewatch/internal/provider"
	"github.com/NordCoder/Pulsewatch/internal/repository/kafka"
	pg "github.com/NordCoder/Pulsewatch/internal/repository/postgres"
	"github.com/NordCoder/Pulsewatch/internal/repository/redis"
	engine "github.com/NordCoder/Pulsewatch/internal/services/monitor-engine"
	"github.com/NordCoder/Pulsewatch/internal/services/monitor-engine/api"
)

type application struct {
	manager    *engine.Manager
	controller *engine.Controller
	outbox     *outbox.Runner
	api        *api.Server
	health     *obs.Health
	purge      func(ctx context.Context)
	closers    []func() error
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func wire(ctx context.Context, cfg *config.Config, db *pg.DB, l *zap.Logger) (*application, error) {
	app := &application{health: obs.NewHealth(cfg.Server.HealthTimeout).Add("postgres", db.Ping)}

	var rdb goredis.UniversalClient
	if cfg.Cache.Backend == config.CacheRedis {
		c, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		rdb = c
		app.closers = append(app.closers, c.Close)
		app.health.Add("redis", func(ctx context.Context) error { return c.Ping(ctx).Err() })
	}

	store, purge := buildStore(cfg, db, rdb, l)
	app.purge = purge

	// bus
	var publishers bus.Fanout
	var producer *kafka.Producer
	if cfg.Kafka.Enable {
		producer = kafka.BootstrapProducer(ctx, cfg.Kafka.Brokers, cfg.Kafka.EventsTopicSpec(), l)
		app.closers = append(app.closers, producer.Close)
		publishers = append(publishers, kafka.NewMonitorEventsKafka(producer))
	}
	if rdb != nil {
		publishers = append(publishers, redis.NewBus(rdb, cfg.Bus.RedisPrefix, l))
	}

	outboxRepo := pg.NewOutboxRepo(db)
	app.outbox = outbox.NewOutboxRunner(
		l,
		outboxRepo,
		outbox.MakeGlobalOutboxHandler(publishers, retry.DefaultRelayPolicy(l)),
		cfg.Outbox.AsOptions(),
	)

	// repositories
	monitors := pg.NewMonitorRepo(db)
	status := pg.NewStatusRepo(db)
	data := pg.NewDataRepo(db)
	events := pg.NewEventRepo(db)
	channels := pg.NewChannelRepo(db)
	clock := monitor.SystemClock{}

	providers := provider.NewRegistry().
		Register(provider.TypeHTTP, provider.NewHTTP(cfg.HTTP.AsClientConfig(), status, clock, l)).
		Register(provider.TypeTCP, provider.NewTCP(clock)).
		Register(provider.TypeDNS, provider.NewDNS(cfg.DNS.Resolver)).
		Register(provider.TypePush, provider.NewPush(monitors, status, clock, l)).
		Register(provider.TypeScript, provider.NewScript(cfg.Script.AsScriptConfig(), l)).
		Register(provider.TypeCredit, provider.NewCredit(cfg.HTTP.AsClientConfig()))

	senders := []notification.Sender{
		notify.NewSMTP(cfg.Notify.Timeout, cfg.Notify.SubjectPrefix, l),
		notify.NewWebhook(cfg.Notify.Timeout, cfg.Notify.AsRetryConfig()),
		notify.NewSlack(cfg.Notify.Timeout, cfg.Notify.AsRetryConfig()),
		notify.NewResend(cfg.Notify.ResendAPIKey, cfg.Notify.ResendFrom),
	}

	deps := &engine.Deps{
		Monitors:  monitors,
		Data:      data,
		Events:    events,
		Outbox:    outboxRepo,
		Tx:        pg.NewTransactor(db, l),
		State:     cache.NewState(store, cfg.Cache.StateTTL),
		Locker:    cache.NewLocker(store, cfg.App.Instance, l),
		Notifier:  notify.NewDispatcher(l, cfg.Notify.Timeout, senders...),
		Providers: providers,
		Clock:     clock,
		Log:       l,
		CycleLock: cfg.Engine.CycleLock(),
		PushLock:  cfg.Engine.PushLock(),
	}
	app.manager = engine.NewManager(deps)

	if cfg.Kafka.Enable {
		cmdProducer := kafka.BootstrapProducer(ctx, cfg.Kafka.Brokers, cfg.Kafka.CommandsTopicSpec(), l)
		app.closers = append(app.closers, cmdProducer.Close)
		app.manager.WithAnnouncer(engine.NewKafkaAnnouncer(cmdProducer, cfg.App.Instance))

		cons := kafka.BootstrapConsumer(ctx, cfg.Kafka.AsCommandsConsumerConfig(cfg.App.Instance), l)
		app.closers = append(app.closers, cons.Close)
		app.controller = &engine.Controller{Log: l, Sub: cons, Manager: app.manager, Instance: cfg.App.Instance}
	}

	push := engine.NewPushService(monitors, status, app.manager, clock)
	app.api = api.NewServer(l, app.manager, push, monitors, channels, data, events)
	return app, nil
}

// buildStore picks the cache behind runner state and locks. The postgres
// backend needs a purge loop for expired rows.
func buildStore(cfg *config.Config, db *pg.DB, rdb goredis.UniversalClient, l *zap.Logger) (cache.Store, func(context.Context)) {
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		return redis.NewStore(rdb, cfg.Redis.KeyPrefix), nil
	case config.CachePostgres:
		repo := pg.NewCacheRepo(db)
		return repo, func(ctx context.Context) { purgeLoop(ctx, repo, cfg.Cache.PurgeEvery, l) }
	default:
		l.Warn("memory cache in use, locks and runner state are local to this process")
		return cache.NewMemory(), nil
	}
}

func purgeLoop(ctx context.Context, repo *pg.CacheRepo, every time.Duration, l *zap.Logger) {
	if every <= 0 {
		every = 10 * time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.Purge(ctx)
			if err != nil {
				l.Warn("cache purge", zap.Error(fmt.Errorf("purge expired keys: %w", err)))
				continue
			}
			if n > 0 {
				l.Debug("cache purged", zap.Int64("keys", n))
			}
		}
	}
}
