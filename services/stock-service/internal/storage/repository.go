package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/eventfanout/libs/docstore"
	"github.com/md-rashed-zaman/eventfanout/services/stock-service/internal/model"
)

type StockRepository struct {
	col docstore.Collection
}

func NewStockRepository(col docstore.Collection) *StockRepository {
	return &StockRepository{col: col}
}

func (r *StockRepository) Create(ctx context.Context, alloc model.StockAllocation) error {
	return r.col.Insert(ctx, alloc.ID, alloc)
}

func (r *StockRepository) Get(ctx context.Context, id string) (model.StockAllocation, error) {
	var alloc model.StockAllocation
	err := r.col.Get(ctx, id, &alloc)
	return alloc, err
}

// Release zeroes the allocation and marks it released.
func (r *StockRepository) Release(ctx context.Context, id string, now time.Time) (model.StockAllocation, error) {
	alloc, err := r.Get(ctx, id)
	if err != nil {
		return model.StockAllocation{}, err
	}
	alloc.Units = 0
	alloc.Status = model.StatusReleased
	alloc.Updated = now.UTC()
	if err := r.col.Update(ctx, id, alloc); err != nil {
		return model.StockAllocation{}, err
	}
	return alloc, nil
}
