package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobtrace/internal/api/handler"
	"github.com/cuongbtq/jobtrace/internal/queue"
	"github.com/cuongbtq/jobtrace/internal/tracing"
)

// unmatchedRoute labels requests that matched no route
const unmatchedRoute = "unmatched"

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Calculate latency
		latency := time.Since(start)

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}

		// Log request details
		logger.Log(c.Request.Context(), level, "HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("route", routeOf(c)),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.Duration("latency", latency),
			slog.Int("body_size", c.Writer.Size()),
		)

		// Log errors if any
		if len(c.Errors) > 0 {
			for _, e := range c.Errors {
				logger.Error("Request error",
					slog.String("error", e.Error()),
					slog.Uint64("type", uint64(e.Type)),
				)
			}
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Idempotency-Key")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// MetricsMiddleware records request counts and latency per route
func MetricsMiddleware(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Metrics == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		deps.Metrics.ObserveRequest(c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}

// TracingMiddleware gives every request its own dispatcher and SyncRunner, so jobs run inline by
// handlers emit lifecycle events for this request only. When tracing is enabled the request is
// recorded as a transaction named "METHOD /route", and inline jobs become its segments.
func TracingMiddleware(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		dispatcher := queue.NewDispatcher(deps.Logger)
		if deps.Metrics != nil {
			deps.Metrics.Subscribe(dispatcher)
		}

		runner := queue.NewSyncRunner(deps.Registry, dispatcher, deps.Logger)
		c.Request = c.Request.WithContext(queue.WithRunner(c.Request.Context(), runner))

		if deps.Tracing == nil {
			c.Next()
			return
		}

		session := deps.Tracing.Open(dispatcher)
		tx := session.Agent.StartTransaction(c.Request.Method + " " + routeOf(c))
		tx.SetType(tracing.TypeRequest)

		defer func() {
			status := c.Writer.Status()
			tx.AddContext("status_code", status)
			tx.AddContext("path", c.Request.URL.Path)

			result := tracing.ResultSuccess
			if status >= http.StatusInternalServerError {
				result = tracing.ResultError
			}
			tx.SetResult(result)
			tx.End()
			session.Agent.Flush()
		}()

		c.Next()
	}
}

// routeOf returns the matched route pattern, keeping label cardinality bounded
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}
