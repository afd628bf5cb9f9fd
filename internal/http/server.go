package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/http/middleware"
	"github.com/jmehdipour/commerce-sync/internal/logger"
	"github.com/jmehdipour/commerce-sync/internal/metrics"
	"github.com/jmehdipour/commerce-sync/internal/ranking"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmehdipour/commerce-sync/internal/service/like"
	"github.com/jmehdipour/commerce-sync/internal/service/order"
	"github.com/jmehdipour/commerce-sync/internal/service/payment"
	"github.com/jmehdipour/commerce-sync/internal/service/point"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TaskRunner triggers a scheduled task out of band.
type TaskRunner interface {
	RunNow(ctx context.Context, name string) (any, error)
}

// Deps are the collaborators the HTTP surface is built on. Nil Reports,
// Rankings or Tasks disable their routes' backends.
type Deps struct {
	Points   *point.Service
	Likes    *like.Service
	Orders   *order.Service
	Payments *payment.Service
	Rankings *ranking.Store
	Reports  repository.CHEventsRepository
	Tasks    TaskRunner

	Redis        *redis.Client
	RateLimitRPS int
}

type Server struct{ e *echo.Echo }

func NewServer(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	authMW := middleware.UserIDMiddleware()
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            d.RateLimitRPS,
		KeyPrefix:      "rl:user:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// called by the payment gateway and public readers
	e.POST("/v1/payments/callback", paymentCallbackHandler(d.Payments))
	e.GET("/v1/rankings", listRankingsHandler(d.Rankings))
	e.GET("/v1/products/:id/rank", productRankHandler(d.Rankings))

	v1 := e.Group("/v1", authMW, rlMW)
	v1.GET("/points", balanceHandler(d.Points))
	v1.POST("/points/charge", chargeHandler(d.Points))
	v1.POST("/points/use", useHandler(d.Points))
	v1.POST("/products/:id/likes", likeHandler(d.Likes, true))
	v1.DELETE("/products/:id/likes", likeHandler(d.Likes, false))
	v1.POST("/products/:id/views", viewHandler(d.Likes))
	v1.POST("/orders", placeOrderHandler(d.Orders))
	v1.GET("/reports/events", listEventsHandler(d.Reports))

	e.POST("/internal/tasks/:name/run", runTaskHandler(d.Tasks))

	return &Server{e: e}
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	logger.Log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
