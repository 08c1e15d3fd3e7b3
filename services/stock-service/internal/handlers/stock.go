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
	"github.com/md-rashed-zaman/eventfanout/services/stock-service/internal/model"
	"github.com/md-rashed-zaman/eventfanout/services/stock-service/internal/storage"
)

type StockHandler struct {
	repo   *storage.StockRepository
	logger *slog.Logger
}

func NewStockHandler(repo *storage.StockRepository, logger *slog.Logger) *StockHandler {
	return &StockHandler{repo: repo, logger: logger}
}

// AllocateOnSubscriptionCreated reserves the default catalogue units
// for a new subscription. The allocation shares the subscription id so
// later cancellations can find it without a lookup table.
func (h *StockHandler) AllocateOnSubscriptionCreated(ctx context.Context, e events.Envelope) error {
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

	alloc := model.StockAllocation{
		ID:             detail.SubscriptionID,
		SubscriptionID: detail.SubscriptionID,
		AccountNumber:  detail.AccountNumber,
		StockID:        model.DefaultStockID,
		Units:          model.DefaultUnits,
		Status:         model.StatusAllocated,
		Updated:        time.Now().UTC(),
	}
	err := h.repo.Create(ctx, alloc)
	if errors.Is(err, docstore.ErrDuplicate) {
		h.logger.Info("allocation already exists, envelope absorbed", "subscription_id", detail.SubscriptionID, "event_id", e.ID)
		return nil
	}
	if err != nil {
		return err
	}
	h.logger.Info("stock allocated", "subscription_id", detail.SubscriptionID, "stock_id", alloc.StockID, "units", alloc.Units)
	return nil
}

// ReleaseOnPaymentCancelled returns the allocation to the pool when the
// payment behind it is cancelled.
func (h *StockHandler) ReleaseOnPaymentCancelled(ctx context.Context, e events.Envelope) error {
	var detail struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	if err := json.Unmarshal(e.Detail, &detail); err != nil {
		return err
	}
	if detail.SubscriptionID == "" {
		return errors.New("payment cancelled event has no subscriptionId")
	}

	alloc, err := h.repo.Release(ctx, detail.SubscriptionID, time.Now())
	if errors.Is(err, docstore.ErrNotFound) {
		// Nothing was ever allocated for this subscription; the
		// cancellation has nothing to undo.
		h.logger.Warn("no allocation for cancelled payment", "subscription_id", detail.SubscriptionID, "event_id", e.ID)
		return nil
	}
	if err != nil {
		return err
	}
	h.logger.Info("stock released", "subscription_id", detail.SubscriptionID, "stock_id", alloc.StockID)
	return nil
}

// Get handles GET /api/v1/stock/{id}.
func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/stock/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "allocation id is required", http.StatusBadRequest)
		return
	}

	alloc, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, docstore.ErrNotFound) {
		http.Error(w, "allocation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("allocation lookup failed", "err", err, "id", id)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alloc)
}
