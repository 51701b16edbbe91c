package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobtrace/internal/api/handler"
	"github.com/cuongbtq/jobtrace/internal/metrics"
)

// ServiceName is reported by the health endpoint
const ServiceName = "jobtrace-api-service"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.Use(MetricsMiddleware(deps))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.Database != nil {
			if err := deps.Database.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": ServiceName,
					"error":   err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": ServiceName,
		})
	})

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(deps.Gatherer)))
	}

	jobHandler := handler.NewJobHandler(deps)
	traceHandler := handler.NewTraceHandler(deps)

	// API v1 routes run inside a request transaction
	v1 := r.Group("/api/v1")
	v1.Use(TracingMiddleware(deps))
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Queue a job or run it inline
			jobs.POST("", jobHandler.CreateJob)
		}

		traces := v1.Group("/traces")
		{
			// GET /api/v1/traces - List traces with filtering and pagination
			traces.GET("", traceHandler.ListTraces)

			// GET /api/v1/traces/:trace_id - Get a trace with its segments
			traces.GET("/:trace_id", traceHandler.GetTrace)
		}
	}

	return r
}
