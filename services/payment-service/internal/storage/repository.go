package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/eventfanout/libs/docstore"
	"github.com/md-rashed-zaman/eventfanout/services/payment-service/internal/model"
)

type PaymentRepository struct {
	col docstore.Collection
}

func NewPaymentRepository(col docstore.Collection) *PaymentRepository {
	return &PaymentRepository{col: col}
}

func (r *PaymentRepository) Create(ctx context.Context, p model.Payment) error {
	return r.col.Insert(ctx, p.ID, p)
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (model.Payment, error) {
	var p model.Payment
	err := r.col.Get(ctx, id, &p)
	return p, err
}

// Cancel flips the payment to cancelled; the resulting store mutation
// becomes the PaymentCancelled event via the change-capture relay.
func (r *PaymentRepository) Cancel(ctx context.Context, id string, now time.Time) (model.Payment, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return model.Payment{}, err
	}
	p.Status = model.StatusCancelled
	p.Event = model.EventPaymentCancelled
	p.Updated = now.UTC()
	if err := r.col.Update(ctx, id, p); err != nil {
		return model.Payment{}, err
	}
	return p, nil
}
