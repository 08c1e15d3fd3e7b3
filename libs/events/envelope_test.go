package events

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewEnvelope(t *testing.T) {
	e, err := New("app.subscriptions", "SubscriptionCreated", "123456789", map[string]any{"subscriptionId": "sub-1"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if e.ID == "" {
		t.Fatal("expected generated id")
	}
	if e.Time.IsZero() {
		t.Fatal("expected timestamp")
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	var detail struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	if err := json.Unmarshal(e.Detail, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if detail.SubscriptionID != "sub-1" {
		t.Fatalf("detail round-trip mismatch: %q", detail.SubscriptionID)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	valid := Envelope{
		ID:         "id-1",
		Source:     "app.payments",
		DetailType: "PaymentCancelled",
		Detail:     json.RawMessage(`{}`),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(e *Envelope)
	}{
		{"missing id", func(e *Envelope) { e.ID = "" }},
		{"missing source", func(e *Envelope) { e.Source = "" }},
		{"missing detail-type", func(e *Envelope) { e.DetailType = "" }},
		{"missing detail", func(e *Envelope) { e.Detail = nil }},
	}
	for _, tc := range cases {
		e := valid
		tc.mutate(&e)
		err := e.Validate()
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !errors.Is(err, ErrInvalidEnvelope) {
			t.Fatalf("%s: expected ErrInvalidEnvelope, got %v", tc.name, err)
		}
	}
}

func TestEnvelopeWireFieldNames(t *testing.T) {
	e := Envelope{
		ID:         "id-1",
		Source:     "app.stock",
		DetailType: "StockAllocated",
		Detail:     json.RawMessage(`{"stock":12}`),
		Account:    "123456789",
	}
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var onWire map[string]json.RawMessage
	if err := json.Unmarshal(raw, &onWire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"id", "source", "detail-type", "detail", "account", "time"} {
		if _, ok := onWire[field]; !ok {
			t.Fatalf("wire format missing %q: %s", field, raw)
		}
	}
}

func TestCanonicalJSONOrdersKeys(t *testing.T) {
	a := []byte(`{"b":2,"a":1,"nested":{"y":true,"x":false}}`)
	b := []byte(`{"nested":{"x":false,"y":true},"a":1,"b":2}`)

	ca, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("CanonicalJSON(a) failed: %v", err)
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("CanonicalJSON(b) failed: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("equal payloads canonicalised differently:\n%s\n%s", ca, cb)
	}
}

func TestCanonicalJSONRejectsInvalid(t *testing.T) {
	if _, err := CanonicalJSON([]byte(`{"a":`)); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}
