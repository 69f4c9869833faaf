package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardgate/dbdirectory/domains/connections/be/service"
	"github.com/shardgate/dbdirectory/platform/go/logging"
	"github.com/shardgate/dbdirectory/platform/go/roles"
)

// Handler exposes connection resolution and link management over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("connections service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the handler under the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/resolve", h.resolve)
	r.Post("/connections", h.create)
	r.Get("/connections/{connectionID}", h.get)
	r.Get("/tenants/{tenantID}/connections", h.listByTenant)
	r.Delete("/connections/{connectionID}", h.delete)
}

type resolveRequest struct {
	ConnectionID   *uuid.UUID `json:"connectionId,omitempty"`
	TenantID       *uuid.UUID `json:"tenantId,omitempty"`
	TenantCode     *string    `json:"tenantCode,omitempty"`
	DatabaseTypeID *int16     `json:"databaseTypeId,omitempty"`
	RequiredRoles  []string   `json:"requiredRoles,omitempty"`
	RoleMatch      string     `json:"roleMatch,omitempty"` // "any" (default) | "all"
}

type resolveResponse struct {
	ConnectionString string `json:"connectionString"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.problem(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := service.ResolveRequest{
		Selector: service.Selector{
			ConnectionID:   body.ConnectionID,
			TenantID:       body.TenantID,
			TenantCode:     body.TenantCode,
			DatabaseTypeID: body.DatabaseTypeID,
		},
	}
	for _, name := range body.RequiredRoles {
		role, err := roles.Parse(name)
		if err != nil {
			h.problem(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req.RequiredRoles = append(req.RequiredRoles, role)
	}
	switch body.RoleMatch {
	case "", "any":
		req.RoleMatch = service.MatchAny
	case "all":
		req.RoleMatch = service.MatchAll
	default:
		h.problem(w, r, http.StatusBadRequest, "roleMatch must be \"any\" or \"all\"")
		return
	}

	handle, err := h.svc.Resolve(r.Context(), req)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, resolveResponse{ConnectionString: handle.ConnectionString})
}

type createConnectionRequest struct {
	TenantID   uuid.UUID `json:"tenantId"`
	DatabaseID uuid.UUID `json:"databaseId"`
}

type connectionResponse struct {
	ConnectionID uuid.UUID `json:"connectionId"`
	TenantID     uuid.UUID `json:"tenantId"`
	DatabaseID   uuid.UUID `json:"databaseId"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.problem(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.TenantID == uuid.Nil || body.DatabaseID == uuid.Nil {
		h.problem(w, r, http.StatusBadRequest, "tenantId and databaseId are required")
		return
	}

	conn, err := h.svc.CreateConnection(r.Context(), body.TenantID, body.DatabaseID)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, toConnectionResponse(conn))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	connectionID, err := uuid.Parse(chi.URLParam(r, "connectionID"))
	if err != nil {
		h.problem(w, r, http.StatusBadRequest, "invalid connection id")
		return
	}

	conn, err := h.svc.GetConnection(r.Context(), connectionID)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toConnectionResponse(conn))
}

func (h *Handler) listByTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.problem(w, r, http.StatusBadRequest, "invalid tenant id")
		return
	}

	conns, err := h.svc.ListConnectionsByTenant(r.Context(), tenantID)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}

	out := make([]connectionResponse, 0, len(conns))
	for _, conn := range conns {
		out = append(out, toConnectionResponse(conn))
	}
	h.respond(w, http.StatusOK, out)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	connectionID, err := uuid.Parse(chi.URLParam(r, "connectionID"))
	if err != nil {
		h.problem(w, r, http.StatusBadRequest, "invalid connection id")
		return
	}

	if err := h.svc.DeleteConnection(r.Context(), connectionID); err != nil {
		h.problemForError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toConnectionResponse(conn service.Connection) connectionResponse {
	return connectionResponse{
		ConnectionID: conn.ConnectionID,
		TenantID:     conn.TenantID,
		DatabaseID:   conn.DatabaseID,
		CreatedAt:    conn.CreatedAt,
	}
}

func (h *Handler) problemForError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		h.problem(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		h.problem(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		h.problem(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNoEligibleUser):
		h.problem(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		logging.FromContext(r.Context(), h.logger).Error("connections request failed", zap.Error(err))
		h.problem(w, r, http.StatusInternalServerError, "internal error")
	}
}

type problemBody struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func (h *Handler) problem(w http.ResponseWriter, _ *http.Request, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problemBody{Status: status, Detail: detail})
}

func (h *Handler) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
