package model

import "time"

const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
)

const (
	EventSubscriptionCreated   = "SubscriptionCreated"
	EventSubscriptionCancelled = "SubscriptionCancelled"
)

// Subscription is the domain record. The Event field names the domain
// event the latest mutation represents; the change-capture relay turns
// it into the envelope's detail-type downstream.
type Subscription struct {
	ID                string    `json:"id"`
	SubscriptionID    string    `json:"subscriptionId"`
	AccountNumber     string    `json:"accountNumber"`
	AccountName       string    `json:"accountName,omitempty"`
	AccountSortCode   string    `json:"accountSortCode,omitempty"`
	CustomerFirstName string    `json:"customerFirstName,omitempty"`
	CustomerSurname   string    `json:"customerSurname,omitempty"`
	Quantity          int       `json:"quantity,omitempty"`
	Event             string    `json:"event"`
	Status            string    `json:"status"`
	Updated           time.Time `json:"updated"`
}
