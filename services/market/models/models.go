package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderStatus represents a state in the order workflow.
type OrderStatus string

// All order workflow states.
const (
	OrderPending    OrderStatus = "PENDING"
	OrderConfirmed  OrderStatus = "CONFIRMED"
	OrderInProgress OrderStatus = "IN_PROGRESS"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderDisputed   OrderStatus = "DISPUTED"
	OrderRefunded   OrderStatus = "REFUNDED"
)

// QuoteStatus represents a state in the quote workflow.
type QuoteStatus string

// All quote workflow states.
const (
	QuotePending   QuoteStatus = "PENDING"
	QuoteResponded QuoteStatus = "RESPONDED"
	QuoteAccepted  QuoteStatus = "ACCEPTED"
	QuoteRejected  QuoteStatus = "REJECTED"
	QuoteWithdrawn QuoteStatus = "WITHDRAWN"
	QuoteExpired   QuoteStatus = "EXPIRED"
)

// DisputeStatus represents the review state of a dispute record.
type DisputeStatus string

// All dispute review states.
const (
	DisputeOpen        DisputeStatus = "OPEN"
	DisputeUnderReview DisputeStatus = "UNDER_REVIEW"
	DisputeResolved    DisputeStatus = "RESOLVED"
	DisputeRejected    DisputeStatus = "REJECTED"
)

// Dispute resolution outcomes, recorded on resolved disputes and applied to
// the parent order.
const (
	ResolutionCompleted = "COMPLETED"
	ResolutionRefunded  = "REFUNDED"
	ResolutionCancelled = "CANCELLED"
)

// Quote is a buyer's pricing request against a provider listing and the
// provider's eventual response. Amounts are integer base units of the
// settlement token.
type Quote struct {
	ID            uuid.UUID   `gorm:"type:uuid;primaryKey"`
	ListingID     uuid.UUID   `gorm:"type:uuid;index"`
	RequesterID   uuid.UUID   `gorm:"type:uuid;index"`
	ProviderID    uuid.UUID   `gorm:"type:uuid;index"`
	Status        QuoteStatus `gorm:"size:32;index"`
	Requirements  string      `gorm:"type:text"`
	Message       string      `gorm:"type:text"`
	PriceAmount   int64
	EstimatedDays int
	Notes         string `gorm:"type:text"`
	ExpiresAt     *time.Time
	RespondedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Order tracks a commissioned engagement from confirmation through
// settlement. EscrowID and EscrowTxHash are backfilled by reconciliation
// when the on-ledger deposit is observed after order creation.
type Order struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey"`
	OrderNumber  string      `gorm:"size:32;uniqueIndex"`
	QuoteID      uuid.UUID   `gorm:"type:uuid;uniqueIndex"`
	ListingID    uuid.UUID   `gorm:"type:uuid;index"`
	BuyerID      uuid.UUID   `gorm:"type:uuid;index"`
	ProviderID   uuid.UUID   `gorm:"type:uuid;index"`
	Amount       int64       `gorm:"not null"`
	Status       OrderStatus `gorm:"size:32;index"`
	EscrowID     string      `gorm:"size:64"`
	EscrowTxHash string      `gorm:"size:66"`
	Deliverables string      `gorm:"type:text"`
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StatusLogs   []OrderStatusLog
}

// OrderStatusLog is the append-only audit trail of order transitions. Rows
// are only ever inserted; there is no update or delete path.
type OrderStatusLog struct {
	ID         uuid.UUID   `gorm:"type:uuid;primaryKey"`
	OrderID    uuid.UUID   `gorm:"type:uuid;index"`
	FromStatus OrderStatus `gorm:"size:32"`
	ToStatus   OrderStatus `gorm:"size:32"`
	ChangedBy  uuid.UUID   `gorm:"type:uuid"`
	Reason     string      `gorm:"size:512"`
	CreatedAt  time.Time
}

// Dispute records a contested order. The unique index on OrderID enforces at
// most one dispute per order.
type Dispute struct {
	ID              uuid.UUID     `gorm:"type:uuid;primaryKey"`
	OrderID         uuid.UUID     `gorm:"type:uuid;uniqueIndex"`
	RaisedBy        uuid.UUID     `gorm:"type:uuid;index"`
	Reason          string        `gorm:"size:128"`
	Description     string        `gorm:"type:text"`
	Status          DisputeStatus `gorm:"size:32;index"`
	Resolution      string        `gorm:"size:32"`
	ResolutionNotes string        `gorm:"type:text"`
	ResolvedBy      *uuid.UUID    `gorm:"type:uuid"`
	ResolvedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Comments        []DisputeComment
}

// DisputeComment is the append-only discussion thread on a dispute.
type DisputeComment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	DisputeID uuid.UUID `gorm:"type:uuid;index"`
	AuthorID  uuid.UUID `gorm:"type:uuid;index"`
	Body      string    `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate creates or updates the market schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Quote{},
		&Order{},
		&OrderStatusLog{},
		&Dispute{},
		&DisputeComment{},
	)
}
