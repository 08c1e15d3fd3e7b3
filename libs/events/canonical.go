package events

import (
	"encoding/json"
	"fmt"
)

// CanonicalJSON re-serialises a JSON document with object keys sorted so
// that byte-identical output is produced for semantically equal payloads.
// Used to derive content-hash deduplication ids.
func CanonicalJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("canonicalise payload: %w", err)
	}
	// encoding/json sorts map keys on marshal.
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalise payload: %w", err)
	}
	return out, nil
}
