package deadletter

import (
	"encoding/json"
	"net/http"
)

// Handler exposes the registry's captured entries for operator triage.
// Replay or discard decisions happen outside this system.
func Handler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(registry.Snapshot())
	}
}
