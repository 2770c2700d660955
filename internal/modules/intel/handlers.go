package intel

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// Handler provides HTTP handlers for IOC introspection
type Handler struct {
	store *Store
	log   zerolog.Logger
}

// NewHandler creates a new threat-intel handler
func NewHandler(store *Store, log zerolog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log.With().Str("handler", "threat_intel").Logger(),
	}
}

// HandleStats handles GET /threat-intel/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.Stats(r.Context())
	status := "active"
	if err != nil {
		h.log.Warn().Err(err).Msg("IOC stats scan degraded")
		status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     status,
		"ioc_counts": counts,
	})
}

// HandleLookup handles GET /threat-intel/lookup?ioc_type=...&ioc_value=...
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	iocType := r.URL.Query().Get("ioc_type")
	iocValue := r.URL.Query().Get("ioc_value")
	if iocType == "" || iocValue == "" {
		http.Error(w, "ioc_type and ioc_value are required", http.StatusUnprocessableEntity)
		return
	}

	match, err := h.store.CheckIOC(r.Context(), iocType, iocValue)
	if err != nil {
		h.log.Error().Err(err).Msg("IOC lookup failed")
		http.Error(w, "Lookup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if match == nil {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"found":     false,
			"ioc_type":  iocType,
			"ioc_value": iocValue,
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"found": true,
		"ioc":   match,
	})
}
