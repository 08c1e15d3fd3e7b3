package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventfanout/libs/docstore"
	"github.com/md-rashed-zaman/eventfanout/libs/events"
	"github.com/md-rashed-zaman/eventfanout/services/subscription-service/internal/model"
	"github.com/md-rashed-zaman/eventfanout/services/subscription-service/internal/storage"
)

type SubscriptionHandler struct {
	repo   *storage.SubscriptionRepository
	logger *slog.Logger
}

func NewSubscriptionHandler(repo *storage.SubscriptionRepository, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{repo: repo, logger: logger}
}

type createSubscriptionRequest struct {
	AccountNumber     string `json:"accountNumber"`
	AccountName       string `json:"accountName"`
	AccountSortCode   string `json:"accountSortCode"`
	CustomerFirstName string `json:"customerFirstName"`
	CustomerSurname   string `json:"customerSurname"`
	Quantity          int    `json:"quantity"`
}

// Create handles POST /api/v1/subscriptions.
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	if req.AccountNumber == "" {
		http.Error(w, "accountNumber is required", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	sub := model.Subscription{
		ID:                id,
		SubscriptionID:    id,
		AccountNumber:     req.AccountNumber,
		AccountName:       req.AccountName,
		AccountSortCode:   req.AccountSortCode,
		CustomerFirstName: req.CustomerFirstName,
		CustomerSurname:   req.CustomerSurname,
		Quantity:          req.Quantity,
		Event:             model.EventSubscriptionCreated,
		Status:            model.StatusActive,
		Updated:           time.Now().UTC(),
	}
	if err := h.repo.Create(r.Context(), sub); err != nil {
		h.logger.Error("create subscription failed", "err", err)
		http.Error(w, "an error has occurred", http.StatusInternalServerError)
		return
	}

	h.logger.Info("subscription created", "subscription_id", id, "account", sub.AccountNumber)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(sub)
}

// Cancel handles PATCH /api/v1/subscriptions/{id}.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/subscriptions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "subscription id is required", http.StatusBadRequest)
		return
	}

	sub, err := h.repo.Cancel(r.Context(), id, time.Now())
	if errors.Is(err, docstore.ErrNotFound) {
		http.Error(w, "subscription not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("cancel subscription failed", "subscription_id", id, "err", err)
		http.Error(w, "an error has occurred", http.StatusInternalServerError)
		return
	}

	h.logger.Info("subscription cancelled", "subscription_id", id)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sub)
}

// CancelOnPaymentCancelled is the bus target invoked when a
// PaymentCancelled envelope reaches the subscriptions bus.
func (h *SubscriptionHandler) CancelOnPaymentCancelled(ctx context.Context, e events.Envelope) error {
	var detail struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	if err := json.Unmarshal(e.Detail, &detail); err != nil {
		return err
	}
	if detail.SubscriptionID == "" {
		return errors.New("payment cancelled event has no subscriptionId")
	}

	_, err := h.repo.Cancel(ctx, detail.SubscriptionID, time.Now())
	if errors.Is(err, docstore.ErrNotFound) {
		// Nothing to cancel; the subscription may never have reached
		// this store. Not a delivery failure.
		h.logger.Warn("payment cancelled for unknown subscription", "subscription_id", detail.SubscriptionID)
		return nil
	}
	if err != nil {
		return err
	}
	h.logger.Info("subscription cancelled by payment event", "subscription_id", detail.SubscriptionID, "event_id", e.ID)
	return nil
}
