package errors

import (
	"fmt"
	"net/http"
	"time"
)

// ProblemDetails represents RFC 7807 compliant error response
type ProblemDetails struct {
	// Type is a URI reference that identifies the problem type
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type
	Title  string `json:"title"`
	Status int    `json:"status"`
	// Detail explains this occurrence of the problem
	Detail    string    `json:"detail"`
	Instance  string    `json:"instance,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"traceId,omitempty"`
	// Errors contains field-specific validation errors
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents field-specific validation errors
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const typeBase = "https://api.tradeingest.io/errors/"

// Problem types
const (
	TypeValidationError     = typeBase + "validation-error"
	TypeInvalidTrade        = typeBase + "invalid-trade"
	TypeInvalidMaturityDate = typeBase + "invalid-maturity-date"
	TypeStaleVersion        = typeBase + "stale-version"
	TypeQueueFull           = typeBase + "queue-full"
	TypeNotFound            = typeBase + "not-found"
	TypeInternalError       = typeBase + "internal-error"
)

// Problem titles
const (
	TitleValidationError     = "Validation Error"
	TitleInvalidTrade        = "Invalid Trade"
	TitleInvalidMaturityDate = "Invalid Maturity Date"
	TitleStaleVersion        = "Stale Trade Version"
	TitleQueueFull           = "Queue Full"
	TitleNotFound            = "Not Found"
	TitleInternalError       = "Internal Server Error"
)

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(problemType, title string, status int, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:      problemType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  instance,
		Timestamp: time.Now().UTC(),
	}
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

// WithValidationErrors adds validation errors to the problem details
func (p *ProblemDetails) WithValidationErrors(errors []ValidationError) *ProblemDetails {
	p.Errors = errors
	return p
}

func (p *ProblemDetails) Error() string {
	return fmt.Sprintf("[%d] %s: %s", p.Status, p.Title, p.Detail)
}

func NewValidationError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeValidationError, TitleValidationError, http.StatusBadRequest, detail, instance)
}

func NewInvalidTradeError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInvalidTrade, TitleInvalidTrade, http.StatusBadRequest, detail, instance)
}

func NewInvalidMaturityDateError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInvalidMaturityDate, TitleInvalidMaturityDate, http.StatusBadRequest, detail, instance)
}

func NewStaleVersionError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeStaleVersion, TitleStaleVersion, http.StatusBadRequest, detail, instance)
}

// NewQueueFullError signals backpressure: the trade was not enqueued.
func NewQueueFullError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeQueueFull, TitleQueueFull, http.StatusServiceUnavailable, detail, instance)
}

func NewNotFoundError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeNotFound, TitleNotFound, http.StatusNotFound, detail, instance)
}

func NewInternalError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInternalError, TitleInternalError, http.StatusInternalServerError, detail, instance)
}
