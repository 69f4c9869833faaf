package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardgate/dbdirectory/domains/tenants/be/service"
	"github.com/shardgate/dbdirectory/platform/go/logging"
)

// Handler exposes tenant management over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/tenants", h.create)
	r.Get("/tenants", h.list)
	r.Get("/tenants/{tenantID}", h.get)
	r.Get("/tenants/code/{code}", h.getByCode)
	r.Put("/tenants/{tenantID}", h.update)
	r.Delete("/tenants/{tenantID}", h.delete)
}

type tenantRequest struct {
	Name   string  `json:"name"`
	Code   *string `json:"code,omitempty"`
	Active bool    `json:"active"`
}

type tenantResponse struct {
	TenantID  uuid.UUID `json:"tenantId"`
	Name      string    `json:"name"`
	Code      *string   `json:"code,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body tenantRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.problem(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	tenant, err := h.svc.Create(r.Context(), body.Name, body.Code, body.Active)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, toResponse(tenant))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.svc.List(r.Context())
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	out := make([]tenantResponse, 0, len(tenants))
	for _, tenant := range tenants {
		out = append(out, toResponse(tenant))
	}
	h.respond(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	tenant, err := h.svc.Get(r.Context(), tenantID)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toResponse(tenant))
}

func (h *Handler) getByCode(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.svc.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toResponse(tenant))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	var body tenantRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.problem(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	tenant, err := h.svc.Update(r.Context(), service.Tenant{
		TenantID: tenantID,
		Name:     body.Name,
		Code:     body.Code,
		Active:   body.Active,
	})
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toResponse(tenant))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), tenantID); err != nil {
		h.problemForError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) tenantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.problem(w, http.StatusBadRequest, "invalid tenant id")
		return uuid.Nil, false
	}
	return tenantID, true
}

func toResponse(tenant service.Tenant) tenantResponse {
	return tenantResponse{
		TenantID:  tenant.TenantID,
		Name:      tenant.Name,
		Code:      tenant.Code,
		Active:    tenant.Active,
		CreatedAt: tenant.CreatedAt,
		UpdatedAt: tenant.UpdatedAt,
	}
}

func (h *Handler) problemForError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		h.problem(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		h.problem(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrReferenced):
		h.problem(w, http.StatusConflict, err.Error())
	default:
		logging.FromContext(r.Context(), h.logger).Error("tenants request failed", zap.Error(err))
		h.problem(w, http.StatusInternalServerError, "internal error")
	}
}

type problemBody struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func (h *Handler) problem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problemBody{Status: status, Detail: detail})
}

func (h *Handler) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
