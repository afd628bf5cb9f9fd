package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/app"
	"github.com/jmehdipour/commerce-sync/internal/consumer"
	"github.com/jmehdipour/commerce-sync/internal/kafka"
	"github.com/jmehdipour/commerce-sync/internal/metrics"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmehdipour/commerce-sync/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "Run the product metrics consumer",
	RunE:  runConsumer,
}

func runConsumer(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	infra, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer infra.Close()

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "commerce-metrics"
	}
	src := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topics:         cfg.Kafka.Topics,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer src.Close()

	w := cfg.Ranking.Weights
	opts := []consumer.Option{consumer.WithScores(app.RankingStore(cfg.Ranking, infra.Redis))}
	if reports := infra.Reports(); reports != nil {
		opts = append(opts, consumer.WithAudit(reports))
	}
	h := consumer.NewHandler(
		infra.DB,
		repository.NewHandledEventRepository(),
		repository.NewProductMetricsRepository(infra.DB),
		app.Executor("product-metrics", cfg.Retry, log),
		consumer.Weights{View: w.View, Like: w.Like, Order: w.Order},
		log,
		opts...,
	)

	mc := worker.NewMetricsConsumer(src, h, cfg.Consumer.Workers, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("metrics consumer started",
		zap.Strings("topics", cfg.Kafka.Topics),
		zap.String("group", groupID),
		zap.Int("workers", mc.Workers))

	return mc.Run(ctx)
}
