package disputes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"worklayer/core/roles"
	"worklayer/observability/metrics"
	"worklayer/services/market/models"
	"worklayer/services/market/notify"
	"worklayer/services/market/orders"
)

var (
	ErrNotFound          = errors.New("dispute not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrForbidden         = errors.New("caller may not act on this dispute")
	ErrAlreadyDisputed   = errors.New("order already has a dispute")
	ErrAlreadySettled    = errors.New("dispute already resolved or rejected")
	ErrInvalidResolution = errors.New("resolution must settle the order to COMPLETED, REFUNDED or CANCELLED")
	ErrInvalidStatus     = errors.New("unknown dispute status")
	ErrOperatorOnly      = errors.New("caller is not the operator")
)

// Service owns the dispute record and its settlement. Resolving a dispute
// force-transitions the parent order out of DISPUTED; the matching ledger
// release or refund is the operator's explicit out-of-band step, so chain
// confirmation and record-keeping stay two separate acts.
type Service struct {
	db       *gorm.DB
	orders   *orders.Service
	notifier notify.Notifier
	operator uuid.UUID
	nowFn    func() time.Time
}

func NewService(db *gorm.DB, orderSvc *orders.Service, notifier notify.Notifier, operator uuid.UUID) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{db: db, orders: orderSvc, notifier: notifier, operator: operator, nowFn: time.Now}
}

// SetNowFunc overrides the time source. Intended for tests.
func (s *Service) SetNowFunc(now func() time.Time) {
	if now == nil {
		s.nowFn = time.Now
		return
	}
	s.nowFn = now
}

// Create opens a dispute on the order and forces it into DISPUTED. One
// dispute per order; a second attempt conflicts.
func (s *Service) Create(ctx context.Context, raisedBy, orderID uuid.UUID, reason, description string) (*models.Dispute, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if order.BuyerID != raisedBy && order.ProviderID != raisedBy {
		return nil, ErrForbidden
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Dispute{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrAlreadyDisputed
	}
	dispute := &models.Dispute{
		ID:          uuid.New(),
		OrderID:     orderID,
		RaisedBy:    raisedBy,
		Reason:      reason,
		Description: description,
		Status:      models.DisputeOpen,
	}
	// The dispute row and the forced order transition commit together: when
	// the order turns out to be terminal (or a racing writer got there
	// first), the transition fails and the insert rolls back with it, so no
	// orphan OPEN dispute can sit on a settled order.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(dispute).Error; err != nil {
			return err
		}
		if order.Status != models.OrderDisputed {
			if _, err := s.orders.WithTx(tx).Dispute(ctx, raisedBy, orderID, "dispute opened: "+reason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Settlement().ObserveDisputeOpened()
	return dispute, nil
}

// Resolve settles the dispute and force-transitions the order to the
// outcome status, bypassing the normal table since DISPUTED is otherwise a
// dead end for COMPLETED and CANCELLED. Operator only.
func (s *Service) Resolve(ctx context.Context, resolvedBy, disputeID uuid.UUID, resolution string, newOrderStatus models.OrderStatus) (*models.Dispute, error) {
	if resolvedBy != s.operator {
		return nil, ErrOperatorOnly
	}
	switch newOrderStatus {
	case models.OrderCompleted, models.OrderRefunded, models.OrderCancelled:
	default:
		return nil, ErrInvalidResolution
	}
	dispute, err := s.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status == models.DisputeResolved || dispute.Status == models.DisputeRejected {
		return nil, ErrAlreadySettled
	}
	now := s.nowFn()
	updates := map[string]interface{}{
		"status":           models.DisputeResolved,
		"resolution":       string(newOrderStatus),
		"resolution_notes": resolution,
		"resolved_by":      resolvedBy,
		"resolved_at":      now,
		"updated_at":       now,
	}
	result := s.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status IN ?", disputeID, []models.DisputeStatus{models.DisputeOpen, models.DisputeUnderReview}).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrAlreadySettled
	}
	reason := "dispute resolved by operator: order settled as " + string(newOrderStatus)
	if _, err := s.orders.ForceStatus(ctx, resolvedBy, dispute.OrderID, newOrderStatus, reason); err != nil {
		return nil, err
	}
	metrics.Settlement().ObserveDisputeResolved(string(newOrderStatus))
	return s.Get(ctx, disputeID)
}

// UpdateStatus is the administrative status-only update, used to mark
// review-in-progress. It never touches the order.
func (s *Service) UpdateStatus(ctx context.Context, actorID, disputeID uuid.UUID, status models.DisputeStatus) (*models.Dispute, error) {
	if actorID != s.operator {
		return nil, ErrOperatorOnly
	}
	switch status {
	case models.DisputeOpen, models.DisputeUnderReview, models.DisputeResolved, models.DisputeRejected:
	default:
		return nil, ErrInvalidStatus
	}
	dispute, err := s.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ?", dispute.ID).
		Updates(map[string]interface{}{"status": status, "updated_at": s.nowFn()}).Error
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, disputeID)
}

// AddComment appends to the dispute thread. Participants and the operator
// only.
func (s *Service) AddComment(ctx context.Context, authorID, disputeID uuid.UUID, body string) (*models.DisputeComment, error) {
	dispute, err := s.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeThread(ctx, authorID, dispute); err != nil {
		return nil, err
	}
	comment := &models.DisputeComment{
		ID:        uuid.New(),
		DisputeID: disputeID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: s.nowFn(),
	}
	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		return nil, err
	}
	if order, err := s.orders.GetByID(ctx, dispute.OrderID); err == nil {
		message := "New comment on the dispute for order " + order.OrderNumber + "."
		for _, party := range []uuid.UUID{order.BuyerID, order.ProviderID} {
			if party != authorID {
				s.notifier.Notify(ctx, party, "dispute.comment", order.ID, message)
				metrics.Settlement().ObserveNotification()
			}
		}
	}
	return comment, nil
}

// Comments returns the thread, oldest first. Same visibility rule as
// AddComment.
func (s *Service) Comments(ctx context.Context, viewerID, disputeID uuid.UUID) ([]models.DisputeComment, error) {
	dispute, err := s.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeThread(ctx, viewerID, dispute); err != nil {
		return nil, err
	}
	var comments []models.DisputeComment
	err = s.db.WithContext(ctx).
		Where("dispute_id = ?", disputeID).
		Order("created_at ASC").
		Find(&comments).Error
	if err != nil {
		return nil, err
	}
	return comments, nil
}

func (s *Service) authorizeThread(ctx context.Context, userID uuid.UUID, dispute *models.Dispute) error {
	if userID == s.operator {
		return nil
	}
	order, err := s.orders.GetByID(ctx, dispute.OrderID)
	if err != nil {
		return err
	}
	if roles.Classify(userID, order.BuyerID, order.ProviderID, s.operator) == roles.PartyStranger {
		return ErrForbidden
	}
	return nil
}

// Get loads a dispute.
func (s *Service) Get(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := s.db.WithContext(ctx).First(&dispute, "id = ?", disputeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

// ForOrder loads the dispute attached to an order, if any.
func (s *Service) ForOrder(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := s.db.WithContext(ctx).First(&dispute, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

// List returns disputes, newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status models.DisputeStatus) ([]models.Dispute, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var disputes []models.Dispute
	if err := query.Find(&disputes).Error; err != nil {
		return nil, err
	}
	return disputes, nil
}
