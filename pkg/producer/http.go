package producer

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stockflow/platform/pkg/common/logger"
	"github.com/stockflow/platform/pkg/inventory"
)

type HTTPHandler struct {
	service *Service
	repo    *Repository
	maxBody int64
}

func NewHTTPHandler(service *Service, repo *Repository, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, repo: repo, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/stock/update", h.handleUpdate).Methods(http.MethodPost)
	router.HandleFunc("/publications/{id}", h.handlePublication).Methods(http.MethodGet)
	router.HandleFunc("/publications/correlation/{correlationId}", h.handleByCorrelation).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var msg inventory.StockMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		logger.Log.WithError(err).Warn("invalid stock update payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.service.Publish(r.Context(), msg)
	if err != nil {
		if inventory.IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to publish stock update")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(rec)
}

func (h *HTTPHandler) handlePublication(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	rec, err := h.repo.Get(r.Context(), vars["id"])
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "publication not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch publication record")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (h *HTTPHandler) handleByCorrelation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	recs, err := h.repo.FindByCorrelationID(r.Context(), vars["correlationId"])
	if err != nil {
		logger.Log.WithError(err).Error("failed to fetch publication records")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}
