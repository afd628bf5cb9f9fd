package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/app"
	"github.com/jmehdipour/commerce-sync/internal/config"
	httpSrv "github.com/jmehdipour/commerce-sync/internal/http"
	"github.com/jmehdipour/commerce-sync/internal/kafka"
	"github.com/jmehdipour/commerce-sync/internal/logger"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmehdipour/commerce-sync/internal/service/like"
	"github.com/jmehdipour/commerce-sync/internal/service/order"
	"github.com/jmehdipour/commerce-sync/internal/service/payment"
	"github.com/jmehdipour/commerce-sync/internal/service/point"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Init(cfg.Log.Level, cfg.Log.Encoding)
		defer func() { _ = log.Sync() }()

		infra, err := app.Open(cfg)
		if err != nil {
			return err
		}
		defer infra.Close()

		gw, err := app.NewGateway(cfg.Gateway)
		if err != nil {
			return err
		}

		// tasks are driven by the scheduler worker; serve only exposes RunNow
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			RequiredAcks: cfg.Kafka.RequiredAcks,
		})
		defer func() { _ = producer.Close() }()

		tasks, err := app.NewScheduler(app.TaskDeps{
			Config:    cfg,
			Infra:     infra,
			Publisher: producer,
			Gateway:   gw,
			Log:       log,
		}, false)
		if err != nil {
			return err
		}

		dbx := infra.DB
		outboxRepo := repository.NewOutboxRepository(dbx)
		orders := repository.NewOrderRepository(dbx)
		payments := repository.NewPaymentRepository(dbx)
		products := repository.NewProductRepository(dbx)

		server := httpSrv.NewServer(httpSrv.Deps{
			Points:   point.New(dbx, repository.NewPointRepository(dbx), outboxRepo, app.Executor("point", cfg.Retry, log)),
			Likes:    like.New(dbx, repository.NewLikeRepository(), products, outboxRepo),
			Orders:   order.New(dbx, orders, payments, products, outboxRepo, gw, cfg.HTTP.CallbackURL, log),
			Payments: payment.New(dbx, payments, orders, outboxRepo),
			Rankings: app.RankingStore(cfg.Ranking, infra.Redis),
			Reports:  infra.Reports(),
			Tasks:    tasks,

			Redis:        infra.Redis,
			RateLimitRPS: cfg.RateLimit.RPS,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
