package api

import (
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradeingest/api/handlers"
	apperrors "github.com/Aidin1998/tradeingest/common/errors"
	"github.com/Aidin1998/tradeingest/internal/trades"
	"github.com/Aidin1998/tradeingest/pkg/validation"
)

const traceHeader = "X-Trace-ID"

// Options configures the HTTP server.
type Options struct {
	ServiceName string
	CORSOrigins []string
	// Gatherer backs /metrics. Nil falls back to the default registry.
	Gatherer prometheus.Gatherer
	Clock    trades.Clock
}

// Server represents the API server
type Server struct {
	router  *gin.Engine
	logger  *zap.Logger
	service handlers.TradeService
	trades  *handlers.TradeHandler
	opts    Options
}

// NewServer creates a new API server around the trade service.
func NewServer(logger *zap.Logger, service handlers.TradeService, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "tradeingest"
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	errorHandler := apperrors.NewUnifiedErrorHandler(logger)
	server := &Server{
		logger:  logger,
		service: service,
		opts:    opts,
		trades:  handlers.NewTradeHandler(service, validation.NewValidator(), errorHandler, opts.Clock, logger),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(cors.New(corsConfig(opts.CORSOrigins)))
	router.Use(traceID())
	router.Use(errorHandler.Middleware())

	router.NoRoute(func(c *gin.Context) {
		errorHandler.HandleError(c, apperrors.NewNotFoundError(
			"no route for "+c.Request.Method+" "+c.Request.URL.Path, c.Request.URL.Path))
	})

	server.router = router
	server.registerRoutes()
	return server
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", traceHeader},
		ExposeHeaders: []string{"Content-Length", traceHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/", handlers.Welcome)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", handlers.Health(s.service))
		v1.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))

		tr := v1.Group("/trades")
		{
			tr.POST("", s.trades.CreateTrade)
			tr.GET("", s.trades.ListTrades)
			tr.POST("/markExpired", s.trades.MarkExpired)
			tr.GET("/:tradeId", s.trades.GetTrade)
			tr.PUT("/:tradeId", s.trades.UpdateTrade)
			tr.DELETE("/:tradeId", s.trades.DeleteTrade)
		}

		queue := v1.Group("/queue")
		{
			queue.POST("/publish", s.trades.Publish)
			queue.GET("/status", s.trades.QueueStatus)
		}

		v1.GET("/replication/failures", s.trades.ReplicationFailures)
	}
}

// traceID propagates or assigns a request trace id.
func traceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(traceHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("trace_id", id)
		c.Header(traceHeader, id)
		c.Next()
	}
}
