// Package main provides the cloud bill calculator CLI. One invocation
// processes every configured account: it computes the corrected bill,
// evaluates cost-rate and burn-rate alarms, measures data egress, and
// publishes everything to the billing dashboards.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lvonguyen/cloud-bill-calculator/internal/config"
	"github.com/lvonguyen/cloud-bill-calculator/internal/graphite"
	"github.com/lvonguyen/cloud-bill-calculator/internal/runner"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "Path to config file")
		dryRun     = flag.Bool("dry-run", false, "Compute bills without publishing or notifying")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting cloud bill calculator",
		zap.String("config", *configPath),
		zap.Bool("dryRun", *dryRun),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	billing, alarms, egress, err := buildPublishers(cfg, *dryRun, logger)
	if err != nil {
		logger.Fatal("Failed to connect to graphite", zap.Error(err))
	}

	var notifier runner.AlarmNotifier
	if !*dryRun {
		if n := runner.NewNotifier(cfg.Global, logger); n != nil {
			notifier = n
		}
	}

	results := runner.New(cfg, billing, alarms, egress, notifier, logger).Run(ctx)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			continue
		}
		if res.AlarmMessage != "" {
			fmt.Println(res.AlarmMessage)
		}
	}

	logger.Info("Cloud bill calculator complete",
		zap.Int("accounts", len(results)),
		zap.Int("failed", failed))
	if failed > 0 {
		os.Exit(1)
	}
}

func buildPublishers(cfg *config.Config, dryRun bool, logger *zap.Logger) (billing, alarms, egress *graphite.Publisher, err error) {
	if dryRun {
		return graphite.NewNop(cfg.Global.GraphiteContextBilling, logger),
			graphite.NewNop(cfg.Global.GraphiteContextAlarms, logger),
			graphite.NewNop(cfg.Global.GraphiteContextEgress, logger),
			nil
	}

	billing, err = graphite.New(cfg.Global.GraphiteHost, cfg.Global.GraphitePort, cfg.Global.GraphiteContextBilling, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	alarms, err = graphite.New(cfg.Global.GraphiteHost, cfg.Global.GraphitePort, cfg.Global.GraphiteContextAlarms, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	egress, err = graphite.New(cfg.Global.GraphiteHost, cfg.Global.GraphitePort, cfg.Global.GraphiteContextEgress, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return billing, alarms, egress, nil
}
