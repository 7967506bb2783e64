package errors

import (
	stderrors "errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradeingest/internal/trades"
	"github.com/Aidin1998/tradeingest/pkg/validation"
)

// ContentType is the media type of every problem response.
const ContentType = "application/problem+json"

// UnifiedErrorHandler converts errors into RFC 7807 responses.
type UnifiedErrorHandler struct {
	logger *zap.Logger
}

func NewUnifiedErrorHandler(logger *zap.Logger) *UnifiedErrorHandler {
	return &UnifiedErrorHandler{logger: logger}
}

// ToProblemDetails maps err to a problem. Trade rule violations become 400s,
// anything unrecognised a 500.
func ToProblemDetails(err error, instance string) *ProblemDetails {
	var pd *ProblemDetails
	if stderrors.As(err, &pd) {
		return pd
	}

	var ve validation.ValidationErrors
	switch {
	case stderrors.As(err, &ve):
		pd = NewValidationError(ve.Error(), instance)
		fields := make([]ValidationError, 0, len(ve))
		for _, fe := range ve {
			fields = append(fields, ValidationError{Field: fe.Field, Message: fe.Message, Code: fe.Tag})
		}
		pd.WithValidationErrors(fields)
	case stderrors.Is(err, trades.ErrInvalidMaturityDate):
		pd = NewInvalidMaturityDateError(err.Error(), instance)
	case stderrors.Is(err, trades.ErrStaleVersion):
		pd = NewStaleVersionError(err.Error(), instance)
	case stderrors.Is(err, trades.ErrInvalidTrade):
		pd = NewInvalidTradeError(err.Error(), instance)
	default:
		pd = NewInternalError(err.Error(), instance)
	}
	return pd
}

// HandleError writes err as a problem response.
func (h *UnifiedErrorHandler) HandleError(c *gin.Context, err error) {
	pd := ToProblemDetails(err, c.Request.URL.Path)
	if traceID := getTraceID(c); traceID != "" {
		pd.WithTraceID(traceID)
	}
	if pd.Status >= 500 && h.logger != nil {
		h.logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("trace_id", pd.TraceID),
			zap.Error(err))
	}
	h.writeResponse(c, pd)
}

// BadRequest writes a validation problem with the given detail.
func (h *UnifiedErrorHandler) BadRequest(c *gin.Context, detail string, fieldErrors ...ValidationError) {
	pd := NewValidationError(detail, c.Request.URL.Path)
	if len(fieldErrors) > 0 {
		pd.WithValidationErrors(fieldErrors)
	}
	if traceID := getTraceID(c); traceID != "" {
		pd.WithTraceID(traceID)
	}
	h.writeResponse(c, pd)
}

// Middleware renders the last error attached with c.Error.
func (h *UnifiedErrorHandler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 && !c.Writer.Written() {
			h.HandleError(c, c.Errors.Last().Err)
			c.Abort()
		}
	}
}

func (h *UnifiedErrorHandler) writeResponse(c *gin.Context, pd *ProblemDetails) {
	c.Header("Content-Type", ContentType)
	c.AbortWithStatusJSON(pd.Status, pd)
}

func getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get("trace_id"); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return c.GetHeader("X-Trace-ID")
}
