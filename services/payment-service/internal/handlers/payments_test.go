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
	"github.com/md-rashed-zaman/eventfanout/services/payment-service/internal/model"
	"github.com/md-rashed-zaman/eventfanout/services/payment-service/internal/storage"
)

func newTestHandler(t *testing.T) (*PaymentHandler, *docstore.MemoryCollection) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	col := docstore.NewMemoryCollection("payments", logger)
	return NewPaymentHandler(storage.NewPaymentRepository(col), logger), col
}

func subscriptionCreated(t *testing.T, subscriptionID, account string) events.Envelope {
	t.Helper()
	e, err := events.New("app.subscriptions", "SubscriptionCreated", account, map[string]string{
		"subscriptionId": subscriptionID,
		"accountNumber":  account,
	})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return e
}

func TestCreateOnSubscriptionCreated(t *testing.T) {
	h, col := newTestHandler(t)
	ctx := context.Background()

	if err := h.CreateOnSubscriptionCreated(ctx, subscriptionCreated(t, "sub-1", "123456789")); err != nil {
		t.Fatalf("CreateOnSubscriptionCreated failed: %v", err)
	}

	var p model.Payment
	if err := col.Get(ctx, "sub-1", &p); err != nil {
		t.Fatalf("payment not stored: %v", err)
	}
	if p.SubscriptionID != "sub-1" || p.AccountNumber != "123456789" {
		t.Fatalf("payment fields wrong: %+v", p)
	}
	if p.Status != model.StatusActive || p.Event != model.EventPaymentCreated {
		t.Fatalf("new payment state wrong: %+v", p)
	}
}

func TestCreateOnSubscriptionCreatedAbsorbsRedelivery(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	e := subscriptionCreated(t, "sub-1", "123456789")
	if err := h.CreateOnSubscriptionCreated(ctx, e); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := h.CreateOnSubscriptionCreated(ctx, e); err != nil {
		t.Fatalf("redelivery should be absorbed, got %v", err)
	}
}

func TestCreateOnSubscriptionCreatedRejectsMissingID(t *testing.T) {
	h, _ := newTestHandler(t)
	e, err := events.New("app.subscriptions", "SubscriptionCreated", "123", map[string]string{})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if err := h.CreateOnSubscriptionCreated(context.Background(), e); err == nil {
		t.Fatal("expected error for envelope without subscriptionId")
	}
}

func TestCancelPayment(t *testing.T) {
	h, col := newTestHandler(t)
	ctx := context.Background()

	p := model.Payment{
		ID:             "pay-1",
		SubscriptionID: "pay-1",
		AccountNumber:  "123456789",
		Event:          model.EventPaymentCreated,
		Status:         model.StatusActive,
	}
	if err := col.Insert(ctx, p.ID, p); err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/payments/pay-1", nil)
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got model.Payment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("response not a payment: %v", err)
	}
	if got.Status != model.StatusCancelled || got.Event != model.EventPaymentCancelled {
		t.Fatalf("cancel did not flip state: %+v", got)
	}
}

func TestCancelUnknownPayment(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/payments/ghost", nil)
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
