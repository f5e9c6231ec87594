package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"worklayer/observability/metrics"
	"worklayer/services/market/models"
	"worklayer/services/market/notify"
	"worklayer/services/market/workflow"
)

// Order numbers look like WL-2026-00042: prefix, year, per-year sequence.
const orderNumberPrefix = "WL"

var (
	ErrNotFound      = errors.New("order not found")
	ErrQuoteNotFound = errors.New("quote not found")
	ErrForbidden     = errors.New("caller is not a participant of this order")
	ErrQuoteNotReady = errors.New("quote is not accepted or carries no price")
)

// Service drives the order lifecycle. Every transition is one database
// transaction: a compare-and-set on (id, status) plus an appended status log
// row. Notifications go out after commit and never roll a transition back.
type Service struct {
	db       *gorm.DB
	notifier notify.Notifier
	nowFn    func() time.Time
}

func NewService(db *gorm.DB, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{db: db, notifier: notifier, nowFn: time.Now}
}

// WithTx returns a copy of the service whose writes run inside tx. Callers
// use it when an order transition must commit atomically with rows of their
// own.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	clone := *s
	clone.db = tx
	return &clone
}

// SetNowFunc overrides the time source. Intended for tests.
func (s *Service) SetNowFunc(now func() time.Time) {
	if now == nil {
		s.nowFn = time.Now
		return
	}
	s.nowFn = now
}

// Create opens a PENDING order from the buyer's accepted, priced quote. The
// order number is sequential within the calendar year; the synthetic
// ""->PENDING log row anchors the audit trail.
func (s *Service) Create(ctx context.Context, buyerID, quoteID uuid.UUID) (*models.Order, error) {
	var quote models.Quote
	err := s.db.WithContext(ctx).First(&quote, "id = ?", quoteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	if quote.RequesterID != buyerID {
		return nil, ErrForbidden
	}
	if quote.Status != models.QuoteAccepted || quote.PriceAmount <= 0 {
		return nil, ErrQuoteNotReady
	}

	now := s.nowFn()
	order := &models.Order{
		ID:         uuid.New(),
		QuoteID:    quote.ID,
		ListingID:  quote.ListingID,
		BuyerID:    quote.RequesterID,
		ProviderID: quote.ProviderID,
		Amount:     quote.PriceAmount,
		Status:     models.OrderPending,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := nextOrderNumber(tx, now)
		if err != nil {
			return err
		}
		order.OrderNumber = number
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		log := &models.OrderStatusLog{
			ID:         uuid.New(),
			OrderID:    order.ID,
			FromStatus: "",
			ToStatus:   models.OrderPending,
			ChangedBy:  buyerID,
			Reason:     "order created from quote " + quote.ID.String(),
			CreatedAt:  now,
		}
		return tx.Create(log).Error
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func nextOrderNumber(tx *gorm.DB, now time.Time) (string, error) {
	year := now.UTC().Year()
	prefix := fmt.Sprintf("%s-%d-", orderNumberPrefix, year)
	var count int64
	if err := tx.Model(&models.Order{}).Where("order_number LIKE ?", prefix+"%").Count(&count).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%05d", prefix, count+1), nil
}

// Confirm is the reconciliation entry point fired when a deposit is observed
// on the ledger. It is safe under at-least-once delivery: an order already
// CONFIRMED gets at most a backfill of the escrow references and never a
// second log row.
func (s *Service) Confirm(ctx context.Context, userID, orderID uuid.UUID, escrowTxHash, escrowID string) (*models.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderConfirmed {
		// Each reference is guarded in SQL against the field still being
		// empty, so racing duplicate confirmations can never overwrite a
		// reference that already landed.
		now := s.nowFn()
		backfilled := false
		if escrowTxHash != "" {
			result := s.db.WithContext(ctx).
				Model(&models.Order{}).
				Where("id = ? AND escrow_tx_hash = ''", order.ID).
				Updates(map[string]interface{}{"escrow_tx_hash": escrowTxHash, "updated_at": now})
			if result.Error != nil {
				return nil, result.Error
			}
			backfilled = backfilled || result.RowsAffected > 0
		}
		if escrowID != "" {
			result := s.db.WithContext(ctx).
				Model(&models.Order{}).
				Where("id = ? AND escrow_id = ''", order.ID).
				Updates(map[string]interface{}{"escrow_id": escrowID, "updated_at": now})
			if result.Error != nil {
				return nil, result.Error
			}
			backfilled = backfilled || result.RowsAffected > 0
		}
		if backfilled {
			metrics.Settlement().ObserveConfirmBackfill()
		}
		return s.GetByID(ctx, orderID)
	}
	extra := map[string]interface{}{}
	if escrowTxHash != "" {
		extra["escrow_tx_hash"] = escrowTxHash
	}
	if escrowID != "" {
		extra["escrow_id"] = escrowID
	}
	return s.applyTransition(ctx, order, userID, models.OrderConfirmed, "escrow deposit confirmed", extra, false)
}

// Start marks work begun. Provider only, CONFIRMED to IN_PROGRESS.
func (s *Service) Start(ctx context.Context, providerID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ProviderID != providerID {
		return nil, ErrForbidden
	}
	return s.applyTransition(ctx, order, providerID, models.OrderInProgress, "provider started work", nil, false)
}

// Deliver records the opaque deliverables payload. Provider only,
// IN_PROGRESS to DELIVERED.
func (s *Service) Deliver(ctx context.Context, providerID, orderID uuid.UUID, deliverables string) (*models.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ProviderID != providerID {
		return nil, ErrForbidden
	}
	extra := map[string]interface{}{"deliverables": deliverables}
	return s.applyTransition(ctx, order, providerID, models.OrderDelivered, "deliverables submitted", extra, false)
}

// Complete accepts the engagement. Buyer only; stamps completedAt.
func (s *Service) Complete(ctx context.Context, buyerID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, ErrForbidden
	}
	extra := map[string]interface{}{"completed_at": s.nowFn()}
	return s.applyTransition(ctx, order, buyerID, models.OrderCompleted, "buyer accepted the work", extra, false)
}

// ReleaseEscrow is the off-ledger mirror of a buyer-driven escrow release.
// Allowed from CONFIRMED, IN_PROGRESS and DELIVERED; the release transaction
// reference lands in the status log. The ledger release itself is a separate
// call the two records reconcile against.
func (s *Service) ReleaseEscrow(ctx context.Context, buyerID, orderID uuid.UUID, releaseTxHash string) (*models.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, ErrForbidden
	}
	switch order.Status {
	case models.OrderConfirmed, models.OrderInProgress, models.OrderDelivered:
	default:
		return nil, fmt.Errorf("%w: order %s to %s", workflow.ErrInvalidTransition, order.Status, models.OrderCompleted)
	}
	reason := "escrow released by buyer"
	if releaseTxHash != "" {
		reason += ", tx " + releaseTxHash
	}
	extra := map[string]interface{}{"completed_at": s.nowFn()}
	return s.applyTransition(ctx, order, buyerID, models.OrderCompleted, reason, extra, false)
}

// Dispute moves the order to DISPUTED. Buyer or provider.
func (s *Service) Dispute(ctx context.Context, userID, orderID uuid.UUID, reason string) (*models.Order, error) {
	order, err := s.participantOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "order disputed"
	}
	return s.applyTransition(ctx, order, userID, models.OrderDisputed, reason, nil, false)
}

// Cancel abandons the order. Buyer or provider, early statuses only per the
// transition table.
func (s *Service) Cancel(ctx context.Context, userID, orderID uuid.UUID, reason string) (*models.Order, error) {
	order, err := s.participantOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "order cancelled"
	}
	return s.applyTransition(ctx, order, userID, models.OrderCancelled, reason, nil, false)
}

// ForceStatus applies a transition outside the normal table. It exists for
// dispute resolution, where DISPUTED must settle to a terminal status; the
// log row carries the override explanation. The compare-and-set against the
// loaded status still applies.
func (s *Service) ForceStatus(ctx context.Context, actorID, orderID uuid.UUID, next models.OrderStatus, reason string) (*models.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var extra map[string]interface{}
	if next == models.OrderCompleted {
		extra = map[string]interface{}{"completed_at": s.nowFn()}
	}
	return s.applyTransition(ctx, order, actorID, next, reason, extra, true)
}

func (s *Service) participantOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != userID && order.ProviderID != userID {
		return nil, ErrForbidden
	}
	return order, nil
}

// applyTransition is the single write path for status changes. The update is
// compare-and-set on the status the caller loaded; when a concurrent writer
// got there first, RowsAffected is zero and the caller sees an
// InvalidTransition instead of silently overwriting.
func (s *Service) applyTransition(ctx context.Context, order *models.Order, actorID uuid.UUID, next models.OrderStatus, reason string, extra map[string]interface{}, force bool) (*models.Order, error) {
	if !force {
		if err := workflow.ValidateOrderTransition(order.Status, next); err != nil {
			return nil, err
		}
	}
	now := s.nowFn()
	updates := map[string]interface{}{
		"status":     next,
		"updated_at": now,
	}
	for column, value := range extra {
		updates[column] = value
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", order.ID, order.Status).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: order %s to %s", workflow.ErrInvalidTransition, order.Status, next)
		}
		log := &models.OrderStatusLog{
			ID:         uuid.New(),
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   next,
			ChangedBy:  actorID,
			Reason:     reason,
			CreatedAt:  now,
		}
		return tx.Create(log).Error
	})
	if err != nil {
		return nil, err
	}
	metrics.Settlement().ObserveOrderTransition(string(next))
	updated, err := s.GetByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	s.notifyParties(ctx, updated)
	return updated, nil
}

func (s *Service) notifyParties(ctx context.Context, order *models.Order) {
	event := notify.StatusEvent(order.Status)
	if event == "" {
		return
	}
	buyerMessage, providerMessage := notify.StatusMessages(order.OrderNumber, order.Status)
	deliveries := []struct {
		userID  uuid.UUID
		message string
	}{
		{order.BuyerID, buyerMessage},
		{order.ProviderID, providerMessage},
	}
	for _, delivery := range deliveries {
		s.notifier.Notify(ctx, delivery.userID, event, order.ID, delivery.message)
		metrics.Settlement().ObserveNotification()
	}
}

// GetByID loads an order.
func (s *Service) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).First(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListForUser returns orders where the user is buyer or provider, newest
// first, optionally filtered by status.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, status models.OrderStatus) ([]models.Order, error) {
	query := s.db.WithContext(ctx).
		Where("buyer_id = ? OR provider_id = ?", userID, userID).
		Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var orders []models.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// StatusLogs returns the audit trail for an order, oldest first.
func (s *Service) StatusLogs(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusLog, error) {
	var logs []models.OrderStatusLog
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
