package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/eventfanout/libs/docstore"
	"github.com/md-rashed-zaman/eventfanout/services/subscription-service/internal/model"
)

type SubscriptionRepository struct {
	col docstore.Collection
}

func NewSubscriptionRepository(col docstore.Collection) *SubscriptionRepository {
	return &SubscriptionRepository{col: col}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub model.Subscription) error {
	return r.col.Insert(ctx, sub.ID, sub)
}

func (r *SubscriptionRepository) Get(ctx context.Context, id string) (model.Subscription, error) {
	var sub model.Subscription
	err := r.col.Get(ctx, id, &sub)
	return sub, err
}

// Cancel flips the subscription to cancelled. The resulting store
// mutation is what produces the SubscriptionCancelled event; nothing is
// published from here.
func (r *SubscriptionRepository) Cancel(ctx context.Context, id string, now time.Time) (model.Subscription, error) {
	sub, err := r.Get(ctx, id)
	if err != nil {
		return model.Subscription{}, err
	}
	sub.Status = model.StatusCancelled
	sub.Event = model.EventSubscriptionCancelled
	sub.Updated = now.UTC()
	if err := r.col.Update(ctx, id, sub); err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}
