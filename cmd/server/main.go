// Command server wires together the matching engine, balance cache,
// execution tape, commit manager, market data processor, and broker
// publisher, then serves the TCP order-entry protocol.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fenrir/internal/balance"
	"fenrir/internal/commit"
	"fenrir/internal/config"
	"fenrir/internal/engine"
	"fenrir/internal/mdp"
	"fenrir/internal/metrics"
	"fenrir/internal/net"
	"fenrir/internal/publisher"
	"fenrir/internal/tape"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	nethttp "net/http"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.NewRegistry(reg)
	go func() {
		mux := nethttp.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := nethttp.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
			log.Error().Err(err).Msg("metrics server exited")
		}
	}()

	bal := balance.New()
	tp := tape.New(cfg.TapeQueueDepth).WithMetrics(metricsRegistry)
	eng := engine.New(bal, tp).WithMetrics(metricsRegistry)
	bookView := func(symbol string) (int64, int64, bool) {
		return eng.BestPrices(context.Background(), symbol)
	}

	repo, err := commit.Open(cfg.Commit.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open execution store")
	}
	defer repo.Close()

	// 5s housekeeping: balance-cache gauge plus a durable balance snapshot.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metricsRegistry.BalanceCacheSize.Set(float64(bal.Size()))
				bal.Range(func(user, asset string, amount uint64) bool {
					rec := commit.BalanceRecord{ClientID: user, Asset: asset, Balance: amount}
					if err := repo.UpsertBalance(ctx, rec); err != nil {
						log.Warn().Err(err).Str("client", user).Msg("failed to snapshot balance")
						return false
					}
					return true
				})
			}
		}
	}()

	commitMgr := commit.WithConfig(repo, cfg.Commit.BatchSize, cfg.Commit.BatchIntervalMS).WithMetrics(metricsRegistry)
	commitMgr.Go(ctx, tp.Commit())
	eng.WithOrderSink(commitMgr)

	if err := repo.AppendAudit(ctx, "server_start", "process", "fenrir", "", time.Now().UnixMilli()); err != nil {
		log.Warn().Err(err).Msg("failed to record startup audit event")
	}

	mdpConsumer := mdp.NewConsumer().WithBookView(bookView)
	mdpConsumer.Go(ctx, tp.MDP())

	backupQueue := publisher.NewLocalBackupQueue(cfg.Publisher.BackupPath, cfg.Publisher.BackupMemoryCap, cfg.Publisher.BackupIntervalMS)
	brokers := map[publisher.Target]publisher.Broker{}
	topics := map[publisher.Target]string{}
	if len(cfg.Publisher.KafkaBrokers) > 0 {
		brokers[publisher.StreamLog] = publisher.NewKafkaBroker(cfg.Publisher.KafkaBrokers)
		topics[publisher.StreamLog] = "executions"
	}
	if cfg.Publisher.RedisAddr != "" {
		brokers[publisher.TopicBus] = publisher.NewRedisBroker(cfg.Publisher.RedisAddr)
		topics[publisher.TopicBus] = "executions"
	}
	if cfg.Publisher.RabbitURL != "" {
		rabbit, err := publisher.NewRabbitBroker(cfg.Publisher.RabbitURL, cfg.Publisher.RabbitExchange)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect to rabbitmq, that target is disabled")
		} else {
			brokers[publisher.ExchangeBus] = rabbit
			topics[publisher.ExchangeBus] = cfg.Publisher.RabbitExchange
		}
	}
	pub := publisher.New(brokers, topics, backupQueue).WithMetrics(metricsRegistry)
	pub.Go(ctx, tp.Publisher())

	server := net.New(cfg.Net.ListenAddr, eng, cfg.Net.Workers)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Run(ctx) }()

	log.Info().Msg("fenrir server running")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("net server exited")
		}
	}

	log.Info().Msg("shutting down")
	server.Shutdown()
	_ = eng.Shutdown()
	_ = commitMgr.Shutdown()
	_ = mdpConsumer.Shutdown()
	_ = pub.Shutdown()
	if err := repo.AppendAudit(context.Background(), "server_stop", "process", "fenrir", "", time.Now().UnixMilli()); err != nil {
		log.Warn().Err(err).Msg("failed to record shutdown audit event")
	}
}
