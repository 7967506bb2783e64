package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// QueueDepther reports the ingest queue depth.
type QueueDepther interface {
	QueueDepth() int
}

// Welcome handles GET /.
func Welcome(c *gin.Context) {
	c.String(http.StatusOK, "Welcome to the trade ingestion service.")
}

// Health returns the GET /health handler.
func Health(q QueueDepther) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "UP",
			"details":     "All systems operational.",
			"queue_depth": q.QueueDepth(),
		})
	}
}
