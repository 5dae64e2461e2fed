package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, logger *slog.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(logger))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/runs", handler.ListRuns)

		// :run is a run id or "latest"
		runs := v1.Group("/runs/:run")
		{
			runs.GET("", handler.GetRun)
			runs.GET("/summary", handler.GetRunSummary)
			runs.GET("/projects", handler.GetRunProjects)
			runs.GET("/groups", handler.GetRunGroups)
		}
	}

	return router
}
