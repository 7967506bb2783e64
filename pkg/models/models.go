package models

import (
	"fmt"
	"time"
)

// Trade is a versioned business record keyed by (TradeID, Version).
// ID is the storage identity assigned by the primary store.
type Trade struct {
	ID             uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	TradeID        string     `json:"tradeId" gorm:"not null;size:64;uniqueIndex:idx_trade_version,priority:1" validate:"required,max=64"`
	Version        int        `json:"version" gorm:"not null;uniqueIndex:idx_trade_version,priority:2" validate:"min=0"`
	CounterPartyID string     `json:"counterPartyId" gorm:"size:64"`
	BookID         string     `json:"bookId" gorm:"size:64"`
	MaturityDate   *time.Time `json:"maturityDate" gorm:"index"`
	CreatedDate    *time.Time `json:"createdDate"`
	Expired        bool       `json:"expired" gorm:"not null;default:false;index"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// TableName pins the table name regardless of naming strategy.
func (Trade) TableName() string { return "trades" }

// Key returns the business identity of the record.
func (t *Trade) Key() string {
	return fmt.Sprintf("%s:%d", t.TradeID, t.Version)
}

// Clone returns a deep copy so callers can hand records to other goroutines.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	if t.MaturityDate != nil {
		d := *t.MaturityDate
		c.MaturityDate = &d
	}
	if t.CreatedDate != nil {
		d := *t.CreatedDate
		c.CreatedDate = &d
	}
	return &c
}

func (t *Trade) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Trade{id=%d tradeId=%s version=%d counterPartyId=%s bookId=%s expired=%t}",
		t.ID, t.TradeID, t.Version, t.CounterPartyID, t.BookID, t.Expired)
}

// ReplicationFailure records a trade write that could not be mirrored to the
// secondary store after all attempts. Rows are append-only.
type ReplicationFailure struct {
	ID               uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	TradeID          string    `json:"tradeId" gorm:"not null;size:64;index"`
	Version          int       `json:"version" gorm:"not null"`
	FailureTimestamp time.Time `json:"failureTimestamp" gorm:"not null;index"`
	Reason           string    `json:"reason" gorm:"not null;size:1024"`
}

func (ReplicationFailure) TableName() string { return "replication_failures" }

// MaxFailureReasonLength bounds ReplicationFailure.Reason.
const MaxFailureReasonLength = 1024
