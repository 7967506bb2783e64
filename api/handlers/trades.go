package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/Aidin1998/tradeingest/common/errors"
	"github.com/Aidin1998/tradeingest/api/responses"
	"github.com/Aidin1998/tradeingest/internal/trades"
	"github.com/Aidin1998/tradeingest/internal/trades/acceptance"
	"github.com/Aidin1998/tradeingest/pkg/models"
	"github.com/Aidin1998/tradeingest/pkg/validation"
)

// TradeService is the part of the trade service the HTTP layer uses.
type TradeService interface {
	Enqueue(trade *models.Trade) bool
	QueueDepth() int
	AcceptSynchronously(ctx context.Context, trade *models.Trade) (*models.Trade, error)
	ListByTradeID(ctx context.Context, tradeID string) ([]models.Trade, error)
	ListPage(ctx context.Context, page, size int) ([]models.Trade, error)
	DeleteByTradeID(ctx context.Context, tradeID string) (int, error)
	MarkExpired(ctx context.Context, asOf time.Time) (int, error)
	ReplicationFailures(ctx context.Context, limit int) ([]models.ReplicationFailure, error)
}

const defaultFailureLimit = 50

// TradeHandler serves the trade, queue and replication endpoints.
type TradeHandler struct {
	service      TradeService
	validator    *validation.Validator
	errorHandler *apperrors.UnifiedErrorHandler
	clock        trades.Clock
	logger       *zap.Logger
}

func NewTradeHandler(service TradeService, v *validation.Validator, eh *apperrors.UnifiedErrorHandler, clock trades.Clock, logger *zap.Logger) *TradeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeHandler{
		service:      service,
		validator:    v,
		errorHandler: eh,
		clock:        clock,
		logger:       logger,
	}
}

// bindTrade decodes and validates the request body. On failure the problem
// response has already been written.
func (h *TradeHandler) bindTrade(c *gin.Context, pathID string) (*models.Trade, bool) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorHandler.BadRequest(c, "malformed request body: "+err.Error())
		return nil, false
	}
	if pathID != "" {
		req.TradeID = pathID
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		h.errorHandler.HandleError(c, err)
		return nil, false
	}
	trade, err := req.toModel(h.validator)
	if err != nil {
		h.errorHandler.BadRequest(c, err.Error())
		return nil, false
	}
	return trade, true
}

// CreateTrade handles POST /trades.
func (h *TradeHandler) CreateTrade(c *gin.Context) {
	h.accept(c, "")
}

// UpdateTrade handles PUT /trades/:tradeId. The path id overrides the body.
func (h *TradeHandler) UpdateTrade(c *gin.Context) {
	h.accept(c, c.Param("tradeId"))
}

func (h *TradeHandler) accept(c *gin.Context, pathID string) {
	trade, ok := h.bindTrade(c, pathID)
	if !ok {
		return
	}
	saved, err := h.service.AcceptSynchronously(c.Request.Context(), trade)
	if err != nil {
		h.errorHandler.HandleError(c, err)
		return
	}
	responses.Success(c, newTradeResponse(saved), "Trade accepted")
}

// GetTrade handles GET /trades/:tradeId and returns every stored version.
func (h *TradeHandler) GetTrade(c *gin.Context) {
	tradeID := c.Param("tradeId")
	list, err := h.service.ListByTradeID(c.Request.Context(), tradeID)
	if err != nil {
		h.errorHandler.HandleError(c, err)
		return
	}
	responses.Success(c, newTradeResponses(list), "Trade versions retrieved")
}

// ListTrades handles GET /trades?page=&size=.
func (h *TradeHandler) ListTrades(c *gin.Context) {
	page, err := queryInt(c, "page", 0)
	if err != nil {
		h.errorHandler.BadRequest(c, err.Error(), apperrors.ValidationError{Field: "page", Message: "page must be an integer", Code: "integer"})
		return
	}
	size, err := queryInt(c, "size", acceptance.DefaultPageSize)
	if err != nil {
		h.errorHandler.BadRequest(c, err.Error(), apperrors.ValidationError{Field: "size", Message: "size must be an integer", Code: "integer"})
		return
	}
	page, size = acceptance.NormalizePage(page, size)

	list, err := h.service.ListPage(c.Request.Context(), page, size)
	if err != nil {
		h.errorHandler.HandleError(c, err)
		return
	}
	c.Header("Cache-Control", "max-age=60, public")
	responses.Paginated(c, newTradeResponses(list), responses.NewPaginationMeta(page, size, len(list)))
}

// DeleteTrade handles DELETE /trades/:tradeId.
func (h *TradeHandler) DeleteTrade(c *gin.Context) {
	tradeID := c.Param("tradeId")
	n, err := h.service.DeleteByTradeID(c.Request.Context(), tradeID)
	if err != nil {
		h.errorHandler.HandleError(c, err)
		return
	}
	responses.Success(c, gin.H{"deleted": n}, fmt.Sprintf("Deleted %d trade(s) with tradeId=%s", n, tradeID))
}

// MarkExpired handles POST /trades/markExpired?asOf=yyyy-mm-dd.
func (h *TradeHandler) MarkExpired(c *gin.Context) {
	asOf := h.clock.Today()
	if raw := c.Query("asOf"); raw != "" {
		d, err := validation.ParseDate(raw)
		if err != nil {
			h.errorHandler.BadRequest(c, err.Error(), apperrors.ValidationError{Field: "asOf", Message: err.Error(), Code: "isodate"})
			return
		}
		asOf = *d
	}
	n, err := h.service.MarkExpired(c.Request.Context(), asOf)
	if err != nil {
		h.errorHandler.HandleError(c, err)
		return
	}
	responses.Success(c, gin.H{"expired": n, "asOf": trades.FormatDate(&asOf)}, fmt.Sprintf("Marked %d trade(s) as expired.", n))
}

// Publish handles POST /queue/publish. The trade is accepted asynchronously.
func (h *TradeHandler) Publish(c *gin.Context) {
	trade, ok := h.bindTrade(c, "")
	if !ok {
		return
	}
	if !h.service.Enqueue(trade) {
		h.logger.Warn("Publish rejected, queue full", zap.String("trade", trade.Key()))
		h.errorHandler.HandleError(c, apperrors.NewQueueFullError(
			fmt.Sprintf("trade %s was not queued", trade.Key()), c.Request.URL.Path))
		return
	}
	responses.Accepted(c, gin.H{"tradeId": trade.TradeID, "version": trade.Version}, "Trade queued for processing")
}

// QueueStatus handles GET /queue/status.
func (h *TradeHandler) QueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queueSize": h.service.QueueDepth()})
}

// ReplicationFailures handles GET /replication/failures?limit=.
func (h *TradeHandler) ReplicationFailures(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultFailureLimit)
	if err != nil || limit <= 0 {
		h.errorHandler.BadRequest(c, "limit must be a positive integer",
			apperrors.ValidationError{Field: "limit", Message: "limit must be a positive integer", Code: "min"})
		return
	}
	list, err := h.service.ReplicationFailures(c.Request.Context(), limit)
	if err != nil {
		h.errorHandler.HandleError(c, err)
		return
	}
	responses.Success(c, list, "Replication failures retrieved")
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}
