package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"rendiciones-service/internal/clients"
	"rendiciones-service/internal/models"
	"rendiciones-service/internal/repositories"
	"rendiciones-service/internal/services"
)

type RendicionHandler struct {
	rendicionService *services.RendicionService
	auditRepo        repositories.AuditRepository
	processingMutex  sync.Mutex
	activeRuns       map[string]bool
}

func NewRendicionHandler(rendicionService *services.RendicionService, auditRepo repositories.AuditRepository) *RendicionHandler {
	return &RendicionHandler{
		rendicionService: rendicionService,
		auditRepo:        auditRepo,
		activeRuns:       make(map[string]bool),
	}
}

func (h *RendicionHandler) Run(w http.ResponseWriter, r *http.Request) {
	var input services.RunInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if input.User == "" {
		respondWithError(w, http.StatusBadRequest, "user is required")
		return
	}
	if input.Year < 2000 || input.Year > 2100 {
		respondWithError(w, http.StatusBadRequest, "year is out of range")
		return
	}
	if input.Month < 1 || input.Month > 12 {
		respondWithError(w, http.StatusBadRequest, "month must be between 1 and 12")
		return
	}
	if input.Mode != models.ModeCash && input.Mode != models.ModeCard {
		respondWithError(w, http.StatusBadRequest, "mode must be efectivo or tarjeta")
		return
	}

	rendicionID := services.BuildRendicionID(input.User, input.Year, input.Month)

	h.processingMutex.Lock()
	if h.activeRuns[rendicionID] {
		h.processingMutex.Unlock()
		respondWithError(w, http.StatusConflict, "A run for this rendicion is already in progress")
		return
	}
	h.activeRuns[rendicionID] = true
	h.processingMutex.Unlock()

	defer func() {
		h.processingMutex.Lock()
		delete(h.activeRuns, rendicionID)
		h.processingMutex.Unlock()
	}()

	result, err := h.rendicionService.Run(r.Context(), &input)
	if err != nil {
		var upstream *clients.UpstreamError
		if errors.As(err, &upstream) {
			respondWithError(w, http.StatusBadGateway, upstream.Error())
			return
		}
		if errors.Is(err, repositories.ErrStaleState) {
			respondWithError(w, http.StatusConflict, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !result.OK {
		respondWithJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *RendicionHandler) GetState(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rendicionID := vars["rendicion_id"]
	if rendicionID == "" {
		respondWithError(w, http.StatusBadRequest, "Rendicion ID is required")
		return
	}

	st, err := h.rendicionService.GetState(rendicionID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if st == nil {
		respondWithError(w, http.StatusNotFound, "rendicion not found")
		return
	}
	respondWithJSON(w, http.StatusOK, st)
}

func (h *RendicionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rendicionID := vars["rendicion_id"]
	if rendicionID == "" {
		respondWithError(w, http.StatusBadRequest, "Rendicion ID is required")
		return
	}

	if err := h.rendicionService.Reset(rendicionID); err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{
		"message":      "Rendicion reset",
		"rendicion_id": rendicionID,
	})
}

func (h *RendicionHandler) GetAudits(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rendicionID := vars["rendicion_id"]
	if rendicionID == "" {
		respondWithError(w, http.StatusBadRequest, "Rendicion ID is required")
		return
	}

	audits, err := h.auditRepo.GetRunAudits(rendicionID, 50)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"rendicion_id": rendicionID,
		"audits":       audits,
	})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Error marshaling JSON response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
