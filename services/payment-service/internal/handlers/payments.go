package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/eventfanout/libs/docstore"
	"github.com/md-rashed-zaman/eventfanout/libs/events"
	"github.com/md-rashed-zaman/eventfanout/services/payment-service/internal/model"
	"github.com/md-rashed-zaman/eventfanout/services/payment-service/internal/storage"
)

type PaymentHandler struct {
	repo   *storage.PaymentRepository
	logger *slog.Logger
}

func NewPaymentHandler(repo *storage.PaymentRepository, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{repo: repo, logger: logger}
}

// CreateOnSubscriptionCreated is the bus target for SubscriptionCreated
// envelopes: a new subscription opens a payment record.
func (h *PaymentHandler) CreateOnSubscriptionCreated(ctx context.Context, e events.Envelope) error {
	var detail struct {
		SubscriptionID string `json:"subscriptionId"`
		AccountNumber  string `json:"accountNumber"`
	}
	if err := json.Unmarshal(e.Detail, &detail); err != nil {
		return err
	}
	if detail.SubscriptionID == "" {
		return errors.New("subscription created event has no subscriptionId")
	}

	now := time.Now().UTC()
	p := model.Payment{
		ID:             detail.SubscriptionID,
		SubscriptionID: detail.SubscriptionID,
		AccountNumber:  detail.AccountNumber,
		Event:          model.EventPaymentCreated,
		Status:         model.StatusActive,
		Created:        now,
		Updated:        now,
	}
	err := h.repo.Create(ctx, p)
	if errors.Is(err, docstore.ErrDuplicate) {
		// Redelivered envelope; the payment already exists.
		h.logger.Info("payment already exists, envelope absorbed", "subscription_id", detail.SubscriptionID, "event_id", e.ID)
		return nil
	}
	if err != nil {
		return err
	}
	h.logger.Info("payment created", "subscription_id", detail.SubscriptionID, "event_id", e.ID)
	return nil
}

// Cancel handles PATCH /api/v1/payments/{id}.
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/payments/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "payment id is required", http.StatusBadRequest)
		return
	}

	p, err := h.repo.Cancel(r.Context(), id, time.Now())
	if errors.Is(err, docstore.ErrNotFound) {
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("cancel payment failed", "payment_id", id, "err", err)
		http.Error(w, "an error has occurred", http.StatusInternalServerError)
		return
	}

	h.logger.Info("payment cancelled", "payment_id", id)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}
