// Package responses provides the success envelope shared by every API
// handler. Errors are rendered as RFC 7807 problems by common/errors.
package responses

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StandardResponse represents a standard API response format
type StandardResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	StandardResponse
	Pagination *PaginationMeta `json:"pagination,omitempty"`
}

// PaginationMeta describes the page that was returned.
type PaginationMeta struct {
	CurrentPage int  `json:"current_page"`
	PerPage     int  `json:"per_page"`
	Count       int  `json:"count"`
	HasNext     bool `json:"has_next"`
	HasPrev     bool `json:"has_prev"`
}

// NewPaginationMeta builds the metadata for a page of count items. A full
// page is assumed to have a successor.
func NewPaginationMeta(page, perPage, count int) *PaginationMeta {
	return &PaginationMeta{
		CurrentPage: page,
		PerPage:     perPage,
		Count:       count,
		HasNext:     count == perPage,
		HasPrev:     page > 0,
	}
}

func envelope(c *gin.Context, data interface{}, msg string) StandardResponse {
	return StandardResponse{
		Success:   true,
		Data:      data,
		Message:   msg,
		Timestamp: time.Now().UTC(),
		TraceID:   getTraceID(c),
	}
}

func pick(def string, message []string) string {
	if len(message) > 0 && message[0] != "" {
		return message[0]
	}
	return def
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}, message ...string) {
	c.JSON(http.StatusOK, envelope(c, data, pick("Operation successful", message)))
}

// Accepted sends a 202 Accepted response
func Accepted(c *gin.Context, data interface{}, message ...string) {
	c.JSON(http.StatusAccepted, envelope(c, data, pick("Request accepted for processing", message)))
}

// Paginated sends a paginated response
func Paginated(c *gin.Context, data interface{}, pagination *PaginationMeta, message ...string) {
	c.JSON(http.StatusOK, PaginatedResponse{
		StandardResponse: envelope(c, data, pick("Data retrieved successfully", message)),
		Pagination:       pagination,
	})
}

func getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get("trace_id"); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return c.GetHeader("X-Trace-ID")
}
