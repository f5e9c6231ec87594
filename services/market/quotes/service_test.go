package quotes

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"worklayer/services/market/models"
	"worklayer/services/market/workflow"
)

type stubListings struct {
	listings map[uuid.UUID]Listing
}

func (s *stubListings) Listing(_ context.Context, id uuid.UUID) (Listing, error) {
	listing, ok := s.listings[id]
	if !ok {
		return Listing{}, errors.New("no such listing")
	}
	return listing, nil
}

func setupQuoteTest(t *testing.T) (*Service, *stubListings) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	listings := &stubListings{listings: make(map[uuid.UUID]Listing)}
	return NewService(db, listings), listings
}

func TestQuoteLifecycle(t *testing.T) {
	svc, listings := setupQuoteTest(t)
	ctx := context.Background()
	requester := uuid.New()
	provider := uuid.New()
	listingID := uuid.New()
	listings.listings[listingID] = Listing{ID: listingID, ProviderID: provider, Active: true}

	quote, err := svc.Request(ctx, requester, listingID, "two-week engagement", "please quote")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if quote.Status != models.QuotePending {
		t.Fatalf("status = %s, want PENDING", quote.Status)
	}
	if quote.ProviderID != provider || quote.RequesterID != requester {
		t.Fatalf("parties = %+v", quote)
	}

	if _, err := svc.Respond(ctx, requester, quote.ID, 1_000, 14, "", nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("respond by requester: %v", err)
	}
	if _, err := svc.Respond(ctx, provider, quote.ID, 0, 14, "", nil); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("zero price: %v", err)
	}

	quote, err = svc.Respond(ctx, provider, quote.ID, 1_000, 14, "includes revisions", nil)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if quote.Status != models.QuoteResponded || quote.PriceAmount != 1_000 || quote.EstimatedDays != 14 {
		t.Fatalf("responded quote = %+v", quote)
	}
	if quote.RespondedAt == nil {
		t.Fatal("respondedAt not stamped")
	}

	// The offer is binding: a second respond is rejected by the table.
	if _, err := svc.Respond(ctx, provider, quote.ID, 2_000, 7, "", nil); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("re-respond: %v", err)
	}

	if _, err := svc.Accept(ctx, provider, quote.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("accept by provider: %v", err)
	}
	quote, err = svc.Accept(ctx, requester, quote.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if quote.Status != models.QuoteAccepted {
		t.Fatalf("status = %s, want ACCEPTED", quote.Status)
	}
	// Price survives acceptance untouched.
	if quote.PriceAmount != 1_000 {
		t.Fatalf("price = %d, want 1000", quote.PriceAmount)
	}

	if _, err := svc.Withdraw(ctx, requester, quote.ID); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("withdraw after accept: %v", err)
	}
}

func TestQuoteRequestValidation(t *testing.T) {
	svc, listings := setupQuoteTest(t)
	ctx := context.Background()
	provider := uuid.New()
	active := uuid.New()
	inactive := uuid.New()
	listings.listings[active] = Listing{ID: active, ProviderID: provider, Active: true}
	listings.listings[inactive] = Listing{ID: inactive, ProviderID: provider, Active: false}

	if _, err := svc.Request(ctx, uuid.New(), uuid.New(), "", ""); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("missing listing: %v", err)
	}
	if _, err := svc.Request(ctx, uuid.New(), inactive, "", ""); !errors.Is(err, ErrListingInactive) {
		t.Fatalf("inactive listing: %v", err)
	}
	if _, err := svc.Request(ctx, provider, active, "", ""); !errors.Is(err, ErrSelfQuote) {
		t.Fatalf("self quote: %v", err)
	}
}

func TestQuoteWithdrawFromPendingAndResponded(t *testing.T) {
	svc, listings := setupQuoteTest(t)
	ctx := context.Background()
	requester := uuid.New()
	provider := uuid.New()
	listingID := uuid.New()
	listings.listings[listingID] = Listing{ID: listingID, ProviderID: provider, Active: true}

	pending, err := svc.Request(ctx, requester, listingID, "", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	withdrawn, err := svc.Withdraw(ctx, requester, pending.ID)
	if err != nil {
		t.Fatalf("withdraw pending: %v", err)
	}
	if withdrawn.Status != models.QuoteWithdrawn {
		t.Fatalf("status = %s, want WITHDRAWN", withdrawn.Status)
	}

	responded, err := svc.Request(ctx, requester, listingID, "", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Respond(ctx, provider, responded.ID, 500, 7, "", nil); err != nil {
		t.Fatalf("respond: %v", err)
	}
	withdrawn, err = svc.Withdraw(ctx, requester, responded.ID)
	if err != nil {
		t.Fatalf("withdraw responded: %v", err)
	}
	if withdrawn.Status != models.QuoteWithdrawn {
		t.Fatalf("status = %s, want WITHDRAWN", withdrawn.Status)
	}
}

func TestQuoteAcceptExpiredOffer(t *testing.T) {
	svc, listings := setupQuoteTest(t)
	ctx := context.Background()
	requester := uuid.New()
	provider := uuid.New()
	listingID := uuid.New()
	listings.listings[listingID] = Listing{ID: listingID, ProviderID: provider, Active: true}

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	svc.SetNowFunc(func() time.Time { return base })

	quote, err := svc.Request(ctx, requester, listingID, "", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	expiry := base.Add(24 * time.Hour)
	if _, err := svc.Respond(ctx, provider, quote.ID, 500, 7, "", &expiry); err != nil {
		t.Fatalf("respond: %v", err)
	}

	svc.SetNowFunc(func() time.Time { return base.Add(48 * time.Hour) })
	if _, err := svc.Accept(ctx, requester, quote.ID); !errors.Is(err, ErrQuoteExpired) {
		t.Fatalf("accept expired: %v", err)
	}
	stored, err := svc.GetByID(ctx, quote.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.QuoteExpired {
		t.Fatalf("status = %s, want EXPIRED", stored.Status)
	}
}

func TestQuoteListForUser(t *testing.T) {
	svc, listings := setupQuoteTest(t)
	ctx := context.Background()
	requester := uuid.New()
	provider := uuid.New()
	listingID := uuid.New()
	listings.listings[listingID] = Listing{ID: listingID, ProviderID: provider, Active: true}

	first, err := svc.Request(ctx, requester, listingID, "", "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Request(ctx, requester, listingID, "", ""); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Withdraw(ctx, requester, first.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	all, err := svc.ListForUser(ctx, requester, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	asProvider, err := svc.ListForUser(ctx, provider, models.QuotePending)
	if err != nil {
		t.Fatalf("list provider: %v", err)
	}
	if len(asProvider) != 1 {
		t.Fatalf("pending for provider = %d, want 1", len(asProvider))
	}
	if _, err := svc.ListForUser(ctx, uuid.New(), ""); err != nil {
		t.Fatalf("list stranger: %v", err)
	}
}
