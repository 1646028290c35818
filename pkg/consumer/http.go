package consumer

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stockflow/platform/pkg/common/logger"
)

// HTTPHandler exposes read-only access to the consumption audit trail.
type HTTPHandler struct {
	repo *Repository
}

func NewHTTPHandler(repo *Repository) *HTTPHandler {
	return &HTTPHandler{repo: repo}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/consumptions/{correlationId}", h.handleConsumption).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleConsumption(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	log, err := h.repo.FindByCorrelationID(r.Context(), vars["correlationId"])
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "consumption log not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch consumption log")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(log)
}
