package disputes

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"worklayer/services/market/models"
	"worklayer/services/market/orders"
	"worklayer/services/market/workflow"
)

type fixture struct {
	db       *gorm.DB
	orders   *orders.Service
	disputes *Service
	operator uuid.UUID
	buyer    uuid.UUID
	provider uuid.UUID
}

func setupDisputeTest(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	operator := uuid.New()
	orderSvc := orders.NewService(db, nil)
	return &fixture{
		db:       db,
		orders:   orderSvc,
		disputes: NewService(db, orderSvc, nil, operator),
		operator: operator,
		buyer:    uuid.New(),
		provider: uuid.New(),
	}
}

func (f *fixture) newConfirmedOrder(t *testing.T) *models.Order {
	t.Helper()
	ctx := context.Background()
	quote := &models.Quote{
		ID:          uuid.New(),
		ListingID:   uuid.New(),
		RequesterID: f.buyer,
		ProviderID:  f.provider,
		Status:      models.QuoteAccepted,
		PriceAmount: 1_000,
	}
	if err := f.db.Create(quote).Error; err != nil {
		t.Fatalf("seed quote: %v", err)
	}
	order, err := f.orders.Create(ctx, f.buyer, quote.ID)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	order, err = f.orders.Confirm(ctx, f.buyer, order.ID, "0xabc", "esc-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return order
}

func TestCreateDispute(t *testing.T) {
	f := setupDisputeTest(t)
	ctx := context.Background()
	order := f.newConfirmedOrder(t)

	if _, err := f.disputes.Create(ctx, uuid.New(), order.ID, "late", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger: %v", err)
	}
	if _, err := f.disputes.Create(ctx, f.buyer, uuid.New(), "late", ""); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("missing order: %v", err)
	}

	dispute, err := f.disputes.Create(ctx, f.buyer, order.ID, "not delivered", "no contact for two weeks")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if dispute.Status != models.DisputeOpen {
		t.Fatalf("status = %s, want OPEN", dispute.Status)
	}
	updated, err := f.orders.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if updated.Status != models.OrderDisputed {
		t.Fatalf("order status = %s, want DISPUTED", updated.Status)
	}

	if _, err := f.disputes.Create(ctx, f.provider, order.ID, "counter", ""); !errors.Is(err, ErrAlreadyDisputed) {
		t.Fatalf("duplicate: %v", err)
	}
}

func TestCreateDisputeTerminalOrder(t *testing.T) {
	f := setupDisputeTest(t)
	ctx := context.Background()
	order := f.newConfirmedOrder(t)
	if _, err := f.orders.Complete(ctx, f.buyer, order.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.disputes.Create(ctx, f.buyer, order.ID, "late", ""); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("dispute terminal order: %v", err)
	}

	// The rejected transition rolls the insert back with it: no OPEN dispute
	// may remain attached to a settled order.
	var count int64
	if err := f.db.Model(&models.Dispute{}).Where("order_id = ?", order.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("orphan dispute rows = %d, want 0", count)
	}
	current, _ := f.orders.GetByID(ctx, order.ID)
	if current.Status != models.OrderCompleted {
		t.Fatalf("order status = %s, want COMPLETED", current.Status)
	}
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := true
			for key, value := range labels {
				found := false
				for _, pair := range metric.GetLabel() {
					if pair.GetName() == key && pair.GetValue() == value {
						found = true
						break
					}
				}
				if !found {
					matched = false
					break
				}
			}
			if matched {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestSettlementCountersTrackDisputes(t *testing.T) {
	f := setupDisputeTest(t)
	ctx := context.Background()
	order := f.newConfirmedOrder(t)

	openedBefore := counterValue(t, "settlement_disputes_opened_total", nil)
	resolvedBefore := counterValue(t, "settlement_disputes_resolved_total", map[string]string{"outcome": string(models.OrderRefunded)})

	dispute, err := f.disputes.Create(ctx, f.buyer, order.ID, "not delivered", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.disputes.Resolve(ctx, f.operator, dispute.ID, "refund issued on ledger", models.OrderRefunded); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if got := counterValue(t, "settlement_disputes_opened_total", nil) - openedBefore; got != 1 {
		t.Fatalf("opened delta = %v, want 1", got)
	}
	if got := counterValue(t, "settlement_disputes_resolved_total", map[string]string{"outcome": string(models.OrderRefunded)}) - resolvedBefore; got != 1 {
		t.Fatalf("resolved delta = %v, want 1", got)
	}
}

func TestResolveDispute(t *testing.T) {
	f := setupDisputeTest(t)
	ctx := context.Background()
	order := f.newConfirmedOrder(t)
	dispute, err := f.disputes.Create(ctx, f.buyer, order.ID, "not delivered", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.disputes.Resolve(ctx, f.buyer, dispute.ID, "x", models.OrderRefunded); !errors.Is(err, ErrOperatorOnly) {
		t.Fatalf("non-operator resolve: %v", err)
	}
	if _, err := f.disputes.Resolve(ctx, f.operator, dispute.ID, "x", models.OrderPending); !errors.Is(err, ErrInvalidResolution) {
		t.Fatalf("bad outcome: %v", err)
	}

	resolved, err := f.disputes.Resolve(ctx, f.operator, dispute.ID, "refund issued on ledger", models.OrderRefunded)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != models.DisputeResolved || resolved.Resolution != models.ResolutionRefunded {
		t.Fatalf("resolved = %+v", resolved)
	}
	if resolved.ResolvedAt == nil || resolved.ResolvedBy == nil || *resolved.ResolvedBy != f.operator {
		t.Fatalf("resolution stamps = %+v", resolved)
	}

	updated, _ := f.orders.GetByID(ctx, order.ID)
	if updated.Status != models.OrderRefunded {
		t.Fatalf("order status = %s, want REFUNDED", updated.Status)
	}
	logs, _ := f.orders.StatusLogs(ctx, order.ID)
	last := logs[len(logs)-1]
	if last.FromStatus != models.OrderDisputed || last.ToStatus != models.OrderRefunded {
		t.Fatalf("override log = %+v", last)
	}

	if _, err := f.disputes.Resolve(ctx, f.operator, dispute.ID, "again", models.OrderCompleted); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("double resolve: %v", err)
	}
}

func TestResolveToCompleted(t *testing.T) {
	f := setupDisputeTest(t)
	ctx := context.Background()
	order := f.newConfirmedOrder(t)
	dispute, err := f.disputes.Create(ctx, f.provider, order.ID, "buyer unresponsive", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.disputes.Resolve(ctx, f.operator, dispute.ID, "work verified, escrow released", models.OrderCompleted); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	updated, _ := f.orders.GetByID(ctx, order.ID)
	if updated.Status != models.OrderCompleted || updated.CompletedAt == nil {
		t.Fatalf("order = %+v", updated)
	}
}

func TestUpdateStatus(t *testing.T) {
	f := setupDisputeTest(t)
	ctx := context.Background()
	order := f.newConfirmedOrder(t)
	dispute, err := f.disputes.Create(ctx, f.buyer, order.ID, "late", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.disputes.UpdateStatus(ctx, f.buyer, dispute.ID, models.DisputeUnderReview); !errors.Is(err, ErrOperatorOnly) {
		t.Fatalf("non-operator: %v", err)
	}
	if _, err := f.disputes.UpdateStatus(ctx, f.operator, dispute.ID, "NONSENSE"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("bad status: %v", err)
	}
	updated, err := f.disputes.UpdateStatus(ctx, f.operator, dispute.ID, models.DisputeUnderReview)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != models.DisputeUnderReview {
		t.Fatalf("status = %s, want UNDER_REVIEW", updated.Status)
	}
	// Status-only update leaves the order alone.
	current, _ := f.orders.GetByID(ctx, order.ID)
	if current.Status != models.OrderDisputed {
		t.Fatalf("order status = %s, want DISPUTED", current.Status)
	}
}

func TestCommentVisibility(t *testing.T) {
	f := setupDisputeTest(t)
	ctx := context.Background()
	order := f.newConfirmedOrder(t)
	dispute, err := f.disputes.Create(ctx, f.buyer, order.ID, "late", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.disputes.AddComment(ctx, uuid.New(), dispute.ID, "hi"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger comment: %v", err)
	}
	if _, err := f.disputes.AddComment(ctx, f.buyer, dispute.ID, "still waiting"); err != nil {
		t.Fatalf("buyer comment: %v", err)
	}
	if _, err := f.disputes.AddComment(ctx, f.provider, dispute.ID, "shipping now"); err != nil {
		t.Fatalf("provider comment: %v", err)
	}
	if _, err := f.disputes.AddComment(ctx, f.operator, dispute.ID, "reviewing"); err != nil {
		t.Fatalf("operator comment: %v", err)
	}

	if _, err := f.disputes.Comments(ctx, uuid.New(), dispute.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger read: %v", err)
	}
	comments, err := f.disputes.Comments(ctx, f.operator, dispute.ID)
	if err != nil {
		t.Fatalf("comments: %v", err)
	}
	if len(comments) != 3 {
		t.Fatalf("comments = %d, want 3", len(comments))
	}
	if comments[0].Body != "still waiting" {
		t.Fatalf("ordering: first = %q", comments[0].Body)
	}
}

func TestForOrderAndList(t *testing.T) {
	f := setupDisputeTest(t)
	ctx := context.Background()
	order := f.newConfirmedOrder(t)

	if _, err := f.disputes.ForOrder(ctx, order.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no dispute yet: %v", err)
	}
	created, err := f.disputes.Create(ctx, f.buyer, order.ID, "late", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	found, err := f.disputes.ForOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("for order: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("dispute mismatch")
	}
	open, err := f.disputes.List(ctx, models.DisputeOpen)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open disputes = %d, want 1", len(open))
	}
}
