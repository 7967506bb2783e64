// Package handlers contains the HTTP handlers of the trade API. Handlers
// bind and validate input, call the trade service and render either a
// standard envelope or an RFC 7807 problem.
package handlers

import (
	"strings"

	"github.com/Aidin1998/tradeingest/internal/trades"
	"github.com/Aidin1998/tradeingest/pkg/models"
	"github.com/Aidin1998/tradeingest/pkg/validation"
)

// TradeRequest is the body of POST/PUT /trades and POST /queue/publish.
type TradeRequest struct {
	TradeID        string `json:"tradeId" validate:"required,trade_id"`
	Version        *int   `json:"version" validate:"required,min=0"`
	CounterPartyID string `json:"counterPartyId" validate:"max=64,secure_string"`
	BookID         string `json:"bookId" validate:"max=64,secure_string"`
	MaturityDate   string `json:"maturityDate" validate:"required,isodate"`
	CreatedDate    string `json:"createdDate" validate:"omitempty,isodate"`
	Expired        string `json:"expired" validate:"omitempty,yes_no"`
}

// TradeResponse is the wire form of a stored trade.
type TradeResponse struct {
	TradeID        string `json:"tradeId"`
	Version        int    `json:"version"`
	CounterPartyID string `json:"counterPartyId"`
	BookID         string `json:"bookId"`
	MaturityDate   string `json:"maturityDate"`
	CreatedDate    string `json:"createdDate"`
	Expired        string `json:"expired"`
}

// toModel converts a validated request. Opaque text fields are sanitized.
func (r *TradeRequest) toModel(v *validation.Validator) (*models.Trade, error) {
	maturity, err := validation.ParseDate(r.MaturityDate)
	if err != nil {
		return nil, err
	}
	created, err := validation.ParseDate(r.CreatedDate)
	if err != nil {
		return nil, err
	}
	t := &models.Trade{
		TradeID:        strings.TrimSpace(r.TradeID),
		CounterPartyID: v.SanitizeInput(r.CounterPartyID),
		BookID:         v.SanitizeInput(r.BookID),
		MaturityDate:   maturity,
		CreatedDate:    created,
		Expired:        strings.EqualFold(r.Expired, "Y"),
	}
	if r.Version != nil {
		t.Version = *r.Version
	}
	return t, nil
}

func newTradeResponse(t *models.Trade) TradeResponse {
	expired := "N"
	if t.Expired {
		expired = "Y"
	}
	return TradeResponse{
		TradeID:        t.TradeID,
		Version:        t.Version,
		CounterPartyID: t.CounterPartyID,
		BookID:         t.BookID,
		MaturityDate:   trades.FormatDate(t.MaturityDate),
		CreatedDate:    trades.FormatDate(t.CreatedDate),
		Expired:        expired,
	}
}

func newTradeResponses(ts []models.Trade) []TradeResponse {
	out := make([]TradeResponse, 0, len(ts))
	for i := range ts {
		out = append(out, newTradeResponse(&ts[i]))
	}
	return out
}
