package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/example/email-dispatcher/internal/config"
	"github.com/example/email-dispatcher/internal/delivery"
	"github.com/example/email-dispatcher/internal/dispatch"
	"github.com/example/email-dispatcher/internal/health"
	"github.com/example/email-dispatcher/internal/kafka/consumer"
	"github.com/example/email-dispatcher/internal/kafka/producer"
	"github.com/example/email-dispatcher/internal/logger"
	"github.com/example/email-dispatcher/internal/metrics"
	"github.com/example/email-dispatcher/internal/store/auditlog"
	"github.com/example/email-dispatcher/internal/store/ledger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "dispatch-worker").Logger()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	prod, err := producer.New(cfg.Kafka.Brokers, log.With().Str("component", "producer").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}()

	cons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, log.With().Str("component", "consumer").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	defer func() {
		if err := cons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka consumer")
		}
	}()

	client, err := newDeliveryClient(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise delivery client")
	}

	var audit dispatch.AuditSink
	if cfg.Mongo.URI != "" {
		store, err := auditlog.New(ctx, cfg.Mongo, log.With().Str("component", "audit-log").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect audit log")
		}
		defer func() {
			if err := store.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close audit log")
			}
		}()
		audit = store
	}

	var statusLedger dispatch.LedgerSink
	if cfg.Redis.URL != "" {
		lgr, err := ledger.New(ctx, cfg.Redis, log.With().Str("component", "status-ledger").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect status ledger")
		}
		statusLedger = lgr
	}

	runner, err := dispatch.NewRunner(client, pipelineMetrics, cfg.Timeout.Delivery, log.With().Str("component", "runner").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise runner")
	}

	scheduler, err := dispatch.NewScheduler(prod, cfg.Topics.Retry, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, pipelineMetrics, log.With().Str("component", "scheduler").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise retry scheduler")
	}

	forwarder, err := dispatch.NewForwarder(prod, cfg.Topics.DeadLetter, cfg.Kafka.ConsumerGroup, cfg.Retry.MaxAttempts, pipelineMetrics, log.With().Str("component", "forwarder").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise dead-letter forwarder")
	}

	engine, err := dispatch.NewEngine(dispatch.EngineParams{
		Runner:      runner,
		Scheduler:   scheduler,
		Forwarder:   forwarder,
		Reporter:    dispatch.NewReporter(audit, statusLedger, cfg.Timeout.Store),
		Collector:   pipelineMetrics,
		MaxAttempts: cfg.Retry.MaxAttempts,
		MaxBytes:    cfg.Retry.MsgMaxBytes,
		Logger:      log.With().Str("component", "engine").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise dispatch engine")
	}

	opsServer, err := health.New(cfg.Ops.Port, registry, map[string]health.ReadyChecker{
		"consumer": cons,
		"producer": prod,
	}, log.With().Str("component", "ops-server").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise ops server")
	}

	topics := []string{cfg.Topics.Primary, cfg.Topics.Retry}
	handler := dispatch.KafkaHandler(engine, cons)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := cons.Consume(gctx, topics, handler); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return opsServer.Run(gctx)
	})

	log.Info().
		Str("primary_topic", cfg.Topics.Primary).
		Str("retry_topic", cfg.Topics.Retry).
		Str("dlq_topic", cfg.Topics.DeadLetter).
		Str("delivery_client", cfg.DeliveryClient()).
		Int("max_attempts", cfg.Retry.MaxAttempts).
		Msg("dispatch worker started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("dispatch worker terminated with error")
		os.Exit(1)
	}
	log.Info().Msg("dispatch worker stopped")
}

func newDeliveryClient(cfg *config.Config, log zerolog.Logger) (delivery.Client, error) {
	switch cfg.DeliveryClient() {
	case config.DeliveryClientSMTP:
		return delivery.NewSMTPClient(cfg.SMTP, log.With().Str("component", "smtp-client").Logger())
	default:
		return delivery.NewMockClient(log.With().Str("component", "mock-client").Logger()), nil
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("dispatch worker init failed")
}
