package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"oracleflow/config"
	"oracleflow/internal/metrics"
	"oracleflow/internal/resilience"
	"oracleflow/llm"
	"oracleflow/logger"
	"oracleflow/storage"
	"oracleflow/stream"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	instanceID := uuid.NewString()
	log.WithFields(logger.Fields{
		"service":  cfg.Service.Name,
		"version":  cfg.Service.Version,
		"instance": instanceID,
	}).Info("starting oracleflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Port)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	breaker := resilience.New(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	state := stream.NewMarketState(cfg.Stream.Symbol)
	trades := stream.NewTradeStream(stream.NewManager(cfg.Stream, breaker), state)

	// Seed a starting price so the first round does not wait on the feed.
	if err := stream.BootstrapPrice(ctx, state, cfg.Stream.Symbol); err != nil {
		log.WithError(err).Warn("bootstrap price fetch failed")
	}

	if err := trades.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start trade stream")
		os.Exit(1)
	}
	defer trades.Stop()

	signals := stream.NewSignalPoller(state, nil, cfg.Stream.SignalPollInterval)
	signals.Start(ctx)
	defer signals.Stop()

	clients := make([]*llm.Client, 0, len(cfg.Models.Endpoints))
	for _, ep := range cfg.Models.Endpoints {
		clients = append(clients, llm.NewClient(ep.Name, ep.URL, cfg.Models))
	}
	orchestrator := llm.NewOrchestrator(clients, cfg.Orchestrator)

	merkle, err := storage.NewMerkleLogger(cfg.Storage.DataRoot, cfg.Storage.ArchiveCap)
	if err != nil {
		log.WithError(err).Error("failed to initialize chained archive")
		os.Exit(1)
	}

	archive, err := storage.NewArchiveManager(cfg.Storage.DataRoot)
	if err != nil {
		log.WithError(err).Error("failed to initialize archive manager")
		os.Exit(1)
	}
	defer shutdownBackup(archive, cfg.Storage.Backup, log)

	go reportHealth(ctx, log, trades, orchestrator)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Orchestrator.RoundInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutting down")
			return
		case <-ticker.C:
			if !state.Ready() {
				log.WithComponent("main").Warn("no market data yet, skipping round")
				continue
			}

			record, results := orchestrator.ExecuteRound(ctx, state.Snapshot())

			root, err := merkle.LogRound(record)
			if err != nil {
				log.WithComponent("main").WithError(err).Error("failed to chain round record")
				continue
			}

			successes := 0
			for _, r := range results {
				if r.Success {
					successes++
				}
			}
			log.WithComponent("main").WithFields(logger.Fields{
				"round_id":  record.RoundID,
				"successes": successes,
				"results":   len(results),
				"root":      root,
			}).Info("round chained")
		}
	}
}

// shutdownBackup uploads the persisted rounds to S3 once on shutdown when
// backup is configured.
func shutdownBackup(archive *storage.ArchiveManager, cfg config.BackupConfig, log *logger.Log) {
	if !cfg.Enabled {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := archive.BackupToS3(ctx, cfg); err != nil {
		log.WithComponent("archive_manager").WithError(err).Error("shutdown backup failed")
	}
}

// reportHealth periodically logs the feed health snapshot and the ensemble
// counters for the external metrics collaborator.
func reportHealth(ctx context.Context, log *logger.Log, trades *stream.TradeStream, orchestrator *llm.Orchestrator) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			health := trades.Health()
			ensemble := orchestrator.Metrics()
			log.WithComponent("health").WithFields(logger.Fields{
				"message_count":         health.MessageCount,
				"error_count":           health.ErrorCount,
				"reconnect_count":       health.ReconnectCount,
				"current_downtime":      health.CurrentDowntime,
				"total_downtime":        health.TotalDowntime,
				"circuit_breaker_state": health.BreakerState,
				"active_clients":        ensemble.ActiveClients,
				"success_rate":          ensemble.SuccessRate,
				"avg_latency_ms":        ensemble.AvgLatencyMS,
				"total_rounds":          ensemble.TotalRounds,
			}).Info("health snapshot")
		}
	}
}
