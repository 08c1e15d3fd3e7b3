package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEnvelope marks envelopes that are missing required fields.
// Invalid envelopes are never retried; they go straight to dead-letter.
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Envelope is the immutable record exchanged between domains. The
// (Source, DetailType) pair fully determines the shape of Detail.
type Envelope struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
	Account    string          `json:"account,omitempty"`
	Time       time.Time       `json:"time"`
}

// New builds an envelope with a fresh id and UTC timestamp. detail is
// marshalled as the opaque payload.
func New(source, detailType, account string, detail any) (Envelope, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal detail: %w", err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Source:     source,
		DetailType: detailType,
		Detail:     raw,
		Account:    account,
		Time:       time.Now().UTC(),
	}, nil
}

func (e Envelope) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidEnvelope)
	case e.Source == "":
		return fmt.Errorf("%w: missing source", ErrInvalidEnvelope)
	case e.DetailType == "":
		return fmt.Errorf("%w: missing detail-type", ErrInvalidEnvelope)
	case len(e.Detail) == 0:
		return fmt.Errorf("%w: missing detail", ErrInvalidEnvelope)
	}
	return nil
}
