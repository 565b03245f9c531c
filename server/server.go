package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/upcast/upcast/concurrency"
	"github.com/upcast/upcast/config"
	"github.com/upcast/upcast/coordinator"
	"github.com/upcast/upcast/ctxutil"
	"github.com/upcast/upcast/logging/logger"
	"github.com/upcast/upcast/metrics"
	"github.com/upcast/upcast/ratelimit"
	"github.com/upcast/upcast/resp"
)

// Server exposes the engine over HTTP: job submission, status, log
// streaming, cancellation and metrics.
type Server struct {
	coord     *coordinator.Coordinator
	collector *metrics.Collector
	gate      *concurrency.Gate
	http      *http.Server
}

func New(cfg *config.Config, coord *coordinator.Coordinator, collector *metrics.Collector, gate *concurrency.Gate, routes *ratelimit.Limiter) *Server {
	if cfg.RunMode != "" {
		gin.SetMode(cfg.RunMode)
	}

	s := &Server{coord: coord, collector: collector, gate: gate}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(traceMiddleware())
	r.Use(logMiddleware())
	if routes != nil {
		r.Use(limitMiddleware(routes))
	}

	r.POST("/jobs", s.createJob)
	r.GET("/jobs", s.listJobs)
	r.GET("/jobs/:id", s.getJob)
	r.GET("/jobs/:id/log", s.streamLog)
	r.POST("/jobs/:id/cancel", s.cancelJob)

	r.GET("/healthz", func(c *gin.Context) {
		resp.Success(c, map[string]string{"status": "healthy"})
	})
	r.GET("/metrics", s.getMetrics)

	s.http = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the log stream stays open for a job's lifetime.
	}
	return s
}

// Run blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Run() error {
	logger.Infof(context.Background(), "http server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// traceMiddleware stamps each request context with a trace id so handler
// logs correlate.
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, _ := ctxutil.EnsureTraceID(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Infof(c.Request.Context(), "%s %s %d %s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// limitMiddleware sheds load per route when the bucket runs dry.
func limitMiddleware(routes *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !routes.Allow("route:" + c.FullPath()) {
			resp.Fail(c, &resp.Exception{
				Status:  http.StatusTooManyRequests,
				Code:    resp.CodeUnavailable,
				Message: "rate limited",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
