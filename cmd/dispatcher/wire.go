package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"outreach/internal/awsutil"
	"outreach/internal/config"
	"outreach/internal/credentials"
	"outreach/internal/dispatch"
	"outreach/internal/domain"
	"outreach/internal/events"
	"outreach/internal/followup"
	"outreach/internal/httpserver"
	"outreach/internal/quota"
	"outreach/internal/render"
	"outreach/internal/retry"
	"outreach/internal/store/pg"
	"outreach/internal/transport"
	"outreach/internal/transport/gmail"
	"outreach/internal/transport/smtp"
)

type app struct {
	db         *pgxpool.Pool
	redis      *redis.Client
	dispatcher *dispatch.Dispatcher
	closers    []func() error
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("dispatcher close failed", "err", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.db.Close()
}

func (a *app) readyChecks() []httpserver.ReadyzCheck {
	checks := []httpserver.ReadyzCheck{func(c context.Context) error { return a.db.Ping(c) }}
	if a.redis != nil {
		checks = append(checks, func(c context.Context) error { return a.redis.Ping(c).Err() })
	}
	return checks
}

func openDB(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	db, err := pg.NewPool(ctx, cfg.DSN, pg.PoolOptions{
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
		MaxConnIdleTime: cfg.MaxConnIdleTime,
		ApplicationName: "outreach-dispatcher",
	})
	if err != nil {
		return nil, fmt.Errorf("dispatcher db connect: %w", err)
	}
	return db, nil
}

func build(ctx context.Context, cfg config.DispatcherConfig) (*app, error) {
	db, err := openDB(ctx, cfg.DBConfig)
	if err != nil {
		return nil, err
	}
	a := &app{db: db}
	store := pg.New(db)

	var counter quota.Counter
	switch cfg.CounterBackend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		counter = quota.NewRedisCounter(a.redis)
	case "memory":
		counter = quota.NewMemoryCounter()
	default:
		counter = pg.NewCounter(db)
	}
	policy, err := quota.ParsePolicy(cfg.SelectionPolicy)
	if err != nil {
		a.Close()
		return nil, err
	}
	selector := quota.NewSelector(quota.NewTracker(counter), policy)

	sealer, err := credentials.NewSealer(cfg.CredentialKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("CREDENTIAL_KEY: %w", err)
	}
	resolver := credentials.NewResolver(sealer, credentials.OAuthOptions{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		TokenURL:     cfg.GoogleTokenURL,
		HTTP:         &http.Client{Timeout: 10 * time.Second},
	})

	router := transport.NewRouter(map[domain.AccountKind]transport.Sender{
		domain.AccountGmail: &gmail.Client{
			HTTP:        &http.Client{Timeout: cfg.SendTimeout},
			BaseURL:     cfg.GmailBaseURL,
			Credentials: resolver,
		},
		domain.AccountSMTP: &smtp.Client{
			Credentials:        resolver,
			InsecureSkipVerify: cfg.SMTPSkipVerify,
		},
	})
	sender := transport.NewGuarded(router, transport.GuardOptions{
		RPS:          cfg.SendRPSPerAccount,
		Burst:        cfg.SendBurst,
		CallTimeout:  cfg.SendTimeout,
		TripAfter:    cfg.BreakerTripAfter,
		OpenDuration: cfg.BreakerOpenFor,
	})

	publisher, err := a.publisher(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	renderer := render.Renderer{HTMLFormatting: cfg.HTMLFormatting}
	a.dispatcher = &dispatch.Dispatcher{
		Store:       store,
		Selector:    selector,
		Sender:      sender,
		FollowUps:   &followup.Scheduler{Store: store, Renderer: renderer},
		Renderer:    renderer,
		Retry:       retry.Policy{Base: cfg.RetryBase, Max: cfg.RetryMax, Exponential: cfg.RetryExponential, MaxAttempts: cfg.RetryMaxAttempts},
		Events:      publisher,
		Credentials: resolver,
		Config: dispatch.Config{
			BatchSize: cfg.BatchSize,
			Workers:   cfg.Workers,
			Interval:  cfg.Interval,
			ClaimTTL:  cfg.ClaimTTL,
		},
	}
	return a, nil
}

func (a *app) publisher(ctx context.Context, cfg config.DispatcherConfig) (events.Publisher, error) {
	switch cfg.EventsSink {
	case "sqs":
		client, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			return nil, fmt.Errorf("dispatcher sqs client init: %w", err)
		}
		slog.Info("publishing dispatch events to sqs", "queue_url", cfg.SQSQueueURL)
		return &events.SQSPublisher{SQS: client, QueueURL: cfg.SQSQueueURL}, nil
	case "kafka":
		p, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		slog.Info("publishing dispatch events to kafka", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
		return p, nil
	default:
		return events.Noop{}, nil
	}
}
