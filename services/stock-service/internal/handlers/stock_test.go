package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/md-rashed-zaman/eventfanout/libs/docstore"
	"github.com/md-rashed-zaman/eventfanout/libs/events"
	"github.com/md-rashed-zaman/eventfanout/services/stock-service/internal/model"
	"github.com/md-rashed-zaman/eventfanout/services/stock-service/internal/storage"
)

func newTestHandler(t *testing.T) (*StockHandler, *docstore.MemoryCollection) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	col := docstore.NewMemoryCollection("stock", logger)
	return NewStockHandler(storage.NewStockRepository(col), logger), col
}

func mustEnvelope(t *testing.T, source, detailType string, detail any) events.Envelope {
	t.Helper()
	e, err := events.New(source, detailType, "123456789", detail)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return e
}

func TestAllocateOnSubscriptionCreated(t *testing.T) {
	h, col := newTestHandler(t)
	ctx := context.Background()

	e := mustEnvelope(t, "app.subscriptions", "SubscriptionCreated", map[string]string{
		"subscriptionId": "sub-1",
		"accountNumber":  "123456789",
	})
	if err := h.AllocateOnSubscriptionCreated(ctx, e); err != nil {
		t.Fatalf("AllocateOnSubscriptionCreated failed: %v", err)
	}

	var alloc model.StockAllocation
	if err := col.Get(ctx, "sub-1", &alloc); err != nil {
		t.Fatalf("allocation not stored: %v", err)
	}
	if alloc.StockID != model.DefaultStockID || alloc.Units != model.DefaultUnits {
		t.Fatalf("allocation wrong: %+v", alloc)
	}
	if alloc.Status != model.StatusAllocated {
		t.Fatalf("status = %q", alloc.Status)
	}

	// Redelivery is absorbed.
	if err := h.AllocateOnSubscriptionCreated(ctx, e); err != nil {
		t.Fatalf("redelivery should be absorbed, got %v", err)
	}
}

func TestReleaseOnPaymentCancelled(t *testing.T) {
	h, col := newTestHandler(t)
	ctx := context.Background()

	if err := h.AllocateOnSubscriptionCreated(ctx, mustEnvelope(t, "app.subscriptions", "SubscriptionCreated", map[string]string{
		"subscriptionId": "sub-1",
		"accountNumber":  "123456789",
	})); err != nil {
		t.Fatalf("seed allocation: %v", err)
	}

	e := mustEnvelope(t, "app.payments", "PaymentCancelled", map[string]string{"subscriptionId": "sub-1"})
	if err := h.ReleaseOnPaymentCancelled(ctx, e); err != nil {
		t.Fatalf("ReleaseOnPaymentCancelled failed: %v", err)
	}

	var alloc model.StockAllocation
	if err := col.Get(ctx, "sub-1", &alloc); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if alloc.Units != 0 || alloc.Status != model.StatusReleased {
		t.Fatalf("allocation not released: %+v", alloc)
	}
}

func TestReleaseWithoutAllocationIsAbsorbed(t *testing.T) {
	h, _ := newTestHandler(t)
	e := mustEnvelope(t, "app.payments", "PaymentCancelled", map[string]string{"subscriptionId": "ghost"})
	if err := h.ReleaseOnPaymentCancelled(context.Background(), e); err != nil {
		t.Fatalf("expected nil for unknown allocation, got %v", err)
	}
}

func TestGetAllocation(t *testing.T) {
	h, col := newTestHandler(t)
	ctx := context.Background()

	alloc := model.StockAllocation{
		ID:             "sub-1",
		SubscriptionID: "sub-1",
		AccountNumber:  "123456789",
		StockID:        model.DefaultStockID,
		Units:          model.DefaultUnits,
		Status:         model.StatusAllocated,
	}
	if err := col.Insert(ctx, alloc.ID, alloc); err != nil {
		t.Fatalf("seed allocation: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stock/sub-1", nil)
	rec := httptest.NewRecorder()
	h.Get(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got model.StockAllocation
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("response not an allocation: %v", err)
	}
	if got.Units != model.DefaultUnits {
		t.Fatalf("unexpected allocation: %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stock/ghost", nil)
	rec = httptest.NewRecorder()
	h.Get(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
