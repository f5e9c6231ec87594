package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"worklayer/services/market/models"
	"worklayer/services/market/workflow"
)

var (
	ErrNotFound        = errors.New("quote not found")
	ErrListingNotFound = errors.New("listing not found")
	ErrListingInactive = errors.New("listing not accepting quotes")
	ErrForbidden       = errors.New("caller is not a participant of this quote")
	ErrSelfQuote       = errors.New("cannot request a quote on your own listing")
	ErrInvalidPrice    = errors.New("quoted price must be positive")
	ErrQuoteExpired    = errors.New("quote offer has expired")
)

// Listing is the slice of listing metadata the quote flow needs.
type Listing struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	Active     bool
}

// ListingGate resolves listings owned by an external catalogue service.
type ListingGate interface {
	Listing(ctx context.Context, id uuid.UUID) (Listing, error)
}

// Service drives the quote negotiation workflow: a buyer requests pricing
// against a listing, the provider answers with a binding offer, and the
// buyer accepts, rejects or withdraws.
type Service struct {
	db       *gorm.DB
	listings ListingGate
	nowFn    func() time.Time
}

func NewService(db *gorm.DB, listings ListingGate) *Service {
	return &Service{db: db, listings: listings, nowFn: time.Now}
}

// SetNowFunc overrides the time source. Intended for tests.
func (s *Service) SetNowFunc(now func() time.Time) {
	if now == nil {
		s.nowFn = time.Now
		return
	}
	s.nowFn = now
}

// Request opens a PENDING quote against the listing on behalf of the
// requester.
func (s *Service) Request(ctx context.Context, requesterID, listingID uuid.UUID, requirements, message string) (*models.Quote, error) {
	listing, err := s.listings.Listing(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListingNotFound, err)
	}
	if !listing.Active {
		return nil, ErrListingInactive
	}
	if listing.ProviderID == requesterID {
		return nil, ErrSelfQuote
	}
	quote := &models.Quote{
		ID:           uuid.New(),
		ListingID:    listingID,
		RequesterID:  requesterID,
		ProviderID:   listing.ProviderID,
		Status:       models.QuotePending,
		Requirements: requirements,
		Message:      message,
	}
	if err := s.db.WithContext(ctx).Create(quote).Error; err != nil {
		return nil, err
	}
	return quote, nil
}

// Respond records the provider's binding offer and moves the quote to
// RESPONDED. Only valid while the quote is still PENDING, so a provider
// cannot rewrite an offer the buyer is already acting on.
func (s *Service) Respond(ctx context.Context, providerID, quoteID uuid.UUID, price int64, estimatedDays int, notes string, expiresAt *time.Time) (*models.Quote, error) {
	if price <= 0 {
		return nil, ErrInvalidPrice
	}
	quote, err := s.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.ProviderID != providerID {
		return nil, ErrForbidden
	}
	if err := workflow.ValidateQuoteTransition(quote.Status, models.QuoteResponded); err != nil {
		return nil, err
	}
	now := s.nowFn()
	updates := map[string]interface{}{
		"status":         models.QuoteResponded,
		"price_amount":   price,
		"estimated_days": estimatedDays,
		"notes":          notes,
		"expires_at":     expiresAt,
		"responded_at":   now,
		"updated_at":     now,
	}
	if err := s.transition(ctx, quote, models.QuoteResponded, updates); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, quoteID)
}

// Accept moves a RESPONDED quote to ACCEPTED. An offer past its expiry is
// lazily marked EXPIRED instead.
func (s *Service) Accept(ctx context.Context, requesterID, quoteID uuid.UUID) (*models.Quote, error) {
	return s.requesterTransition(ctx, requesterID, quoteID, models.QuoteAccepted, true)
}

// Reject moves a RESPONDED quote to REJECTED.
func (s *Service) Reject(ctx context.Context, requesterID, quoteID uuid.UUID) (*models.Quote, error) {
	return s.requesterTransition(ctx, requesterID, quoteID, models.QuoteRejected, false)
}

// Withdraw retracts the request. Allowed from PENDING and RESPONDED.
func (s *Service) Withdraw(ctx context.Context, requesterID, quoteID uuid.UUID) (*models.Quote, error) {
	return s.requesterTransition(ctx, requesterID, quoteID, models.QuoteWithdrawn, false)
}

func (s *Service) requesterTransition(ctx context.Context, requesterID, quoteID uuid.UUID, next models.QuoteStatus, checkExpiry bool) (*models.Quote, error) {
	quote, err := s.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.RequesterID != requesterID {
		return nil, ErrForbidden
	}
	if err := workflow.ValidateQuoteTransition(quote.Status, next); err != nil {
		return nil, err
	}
	now := s.nowFn()
	if checkExpiry && quote.ExpiresAt != nil && now.After(*quote.ExpiresAt) {
		expire := map[string]interface{}{"status": models.QuoteExpired, "updated_at": now}
		if err := s.transition(ctx, quote, models.QuoteExpired, expire); err != nil {
			return nil, err
		}
		return nil, ErrQuoteExpired
	}
	updates := map[string]interface{}{"status": next, "updated_at": now}
	if err := s.transition(ctx, quote, next, updates); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, quoteID)
}

// transition applies a compare-and-set update keyed on the status the caller
// validated against. A racing writer leaves RowsAffected at zero and the
// caller observes an InvalidTransition.
func (s *Service) transition(ctx context.Context, quote *models.Quote, next models.QuoteStatus, updates map[string]interface{}) error {
	result := s.db.WithContext(ctx).
		Model(&models.Quote{}).
		Where("id = ? AND status = ?", quote.ID, quote.Status).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: quote %s to %s", workflow.ErrInvalidTransition, quote.Status, next)
	}
	return nil
}

// GetByID loads a quote.
func (s *Service) GetByID(ctx context.Context, quoteID uuid.UUID) (*models.Quote, error) {
	var quote models.Quote
	err := s.db.WithContext(ctx).First(&quote, "id = ?", quoteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

// ListForUser returns quotes where the user is requester or provider,
// newest first, optionally filtered by status.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, status models.QuoteStatus) ([]models.Quote, error) {
	query := s.db.WithContext(ctx).
		Where("requester_id = ? OR provider_id = ?", userID, userID).
		Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var quotes []models.Quote
	if err := query.Find(&quotes).Error; err != nil {
		return nil, err
	}
	return quotes, nil
}
