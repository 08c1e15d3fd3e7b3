package model

import "time"

const (
	StatusAllocated = "allocated"
	StatusReleased  = "released"
)

// DefaultStockID and DefaultUnits mirror the fixed catalogue entry the
// fulfilment team allocates against today. A real catalogue would make
// these per-product.
const (
	DefaultStockID = "razor-123"
	DefaultUnits   = 12
)

// StockAllocation records the units reserved for a subscription. Unlike
// subscriptions and payments it carries no Event field: stock mutations
// stay inside this domain and never feed the change-capture relay.
type StockAllocation struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscriptionId"`
	AccountNumber  string    `json:"accountNumber"`
	StockID        string    `json:"stockId"`
	Units          int       `json:"stock"`
	Status         string    `json:"status"`
	Updated        time.Time `json:"updated"`
}
