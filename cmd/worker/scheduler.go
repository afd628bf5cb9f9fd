package worker

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/app"
	"github.com/jmehdipour/commerce-sync/internal/kafka"
	"github.com/jmehdipour/commerce-sync/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run outbox relay, outbox retry, payment reconcile and ranking carry-over on their schedules",
	RunE:  runScheduler,
}

func runScheduler(cmd *cobra.Command, _ []string) error {
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

	gw, err := app.NewGateway(cfg.Gateway)
	if err != nil {
		return err
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		WriteTimeout: cfg.Kafka.WriteTimeout,
		RequiredAcks: cfg.Kafka.RequiredAcks,
	})
	defer func() { _ = producer.Close() }()

	s, err := app.NewScheduler(app.TaskDeps{
		Config:    cfg,
		Infra:     infra,
		Publisher: producer,
		Gateway:   gw,
		Log:       log,
	}, true)
	if err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.Scheduler.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Scheduler.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics listener exited", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.Start()
	log.Info("scheduler started", zap.Strings("tasks", s.Tasks()), zap.String("timezone", cfg.Ranking.Timezone))

	<-ctx.Done()
	log.Info("scheduler stopping")
	s.Stop()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}
