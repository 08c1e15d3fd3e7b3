package model

import "time"

const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
)

const (
	EventPaymentCreated   = "PaymentCreated"
	EventPaymentCancelled = "PaymentCancelled"
)

// Payment is keyed by the subscription it pays for.
type Payment struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscriptionId"`
	AccountNumber  string    `json:"accountNumber"`
	Event          string    `json:"event"`
	Status         string    `json:"status"`
	Created        time.Time `json:"created"`
	Updated        time.Time `json:"updated"`
}
