package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/vidgrab-bot/internal/conf"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/logger"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/response"
	"github.com/lk2023060901/vidgrab-bot/internal/stats/service"
	"go.uber.org/zap"
)

// AdminTokenHeader carries server.admin_token on /api requests
const AdminTokenHeader = "X-Admin-Token"

// Check reports whether a dependency is usable
type Check func(ctx context.Context) error

// Gauge reads one runtime number, e.g. busy workers
type Gauge func() int64

type HTTPServer struct {
	server *http.Server
	logger *logger.Logger
}

func NewHTTPServer(
	config conf.ServerConfig,
	log *logger.Logger,
	statsService *service.StatsService,
	checks map[string]Check,
	gauges map[string]Gauge,
) *HTTPServer {
	log = log.Named("http")

	return &HTTPServer{
		server: &http.Server{
			Addr:              config.Addr(),
			Handler:           NewRouter(config, log, statsService, checks, gauges),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: log,
	}
}

func NewRouter(
	config conf.ServerConfig,
	log *logger.Logger,
	statsService *service.StatsService,
	checks map[string]Check,
	gauges map[string]Gauge,
) *gin.Engine {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	router.GET("/ready", readyHandler(checks))

	api := router.Group("/api/v1")
	api.Use(AdminAuth(config.AdminToken, log))
	statsService.RegisterRoutes(api)
	api.GET("/runtime", runtimeHandler(gauges))

	return router
}

func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func readyHandler(checks map[string]Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		failed := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			response.ServiceUnavailable(c, "not ready", failed)
			return
		}
		response.Success(c, gin.H{"status": "ready"})
	}
}

func runtimeHandler(gauges map[string]Gauge) gin.HandlerFunc {
	return func(c *gin.Context) {
		values := make(map[string]int64, len(gauges))
		for name, gauge := range gauges {
			values[name] = gauge()
		}
		response.Success(c, values)
	}
}

// AdminAuth rejects requests without the configured admin token. An empty
// token disables the API entirely.
func AdminAuth(token string, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			log.Warn("rejected admin request",
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", c.ClientIP()))
			response.Unauthorized(c, "invalid admin token")
			c.Abort()
			return
		}
		c.Next()
	}
}

func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		log.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
