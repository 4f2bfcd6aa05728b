package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"creditgate/internal/identity"
	"creditgate/internal/model"
	"creditgate/internal/service"
)

const maxBodyBytes = 64 << 10

type Handler struct {
	svc service.PurchaseService
	log *zap.Logger
}

func NewHandler(svc service.PurchaseService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/v1", func(r chi.Router) {
		r.HandleFunc("/purchases/verify", h.VerifyPurchase)
		r.Get("/balance", h.Balance)
		r.Get("/ledger", h.Ledger)
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// VerifyPurchase answers 200 for every business outcome, including malformed bodies.
func (h *Handler) VerifyPurchase(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodOptions:
		w.Header().Set("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		h.respondJSON(w, http.StatusMethodNotAllowed, model.VerifyResponse{
			Status:  model.StatusRejected,
			Message: "method not allowed",
		})
		return
	}

	var payload map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		h.respondJSON(w, http.StatusOK, model.VerifyResponse{
			Status:  model.StatusInvalid,
			Message: "request body must be a JSON object",
		})
		return
	}

	res, err := h.svc.Verify(r.Context(), identity.BearerToken(r.Header.Get("Authorization")), payload)
	if err != nil {
		h.respondJSON(w, service.HTTPStatus(err), model.VerifyResponse{
			Status:  model.StatusRejected,
			Message: service.AsServiceError(err).Message,
		})
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Balance(r.Context(), identity.BearerToken(r.Header.Get("Authorization")))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, service.TextCodeBadInput, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events, err := h.svc.Ledger(r.Context(), identity.BearerToken(r.Header.Get("Authorization")), limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	rich := service.AsServiceError(err)
	h.respondError(w, service.HTTPStatus(err), rich.TextCode, rich.Message)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.log.Warn("failed to write response", zap.Error(err))
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, map[string]string{"error": code, "message": message})
}
