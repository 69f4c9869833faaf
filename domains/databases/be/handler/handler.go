package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardgate/dbdirectory/domains/databases/be/service"
	"github.com/shardgate/dbdirectory/domains/dbusers/be/provisioning"
	"github.com/shardgate/dbdirectory/platform/go/logging"
)

// Handler exposes database management over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("databases service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/databases", h.create)
	r.Get("/databases", h.list)
	r.Get("/databases/{databaseID}", h.get)
	r.Put("/databases/{databaseID}", h.update)
	r.Delete("/databases/{databaseID}", h.delete)
}

type databaseRequest struct {
	Name                 string    `json:"name"`
	ServerID             uuid.UUID `json:"serverId"`
	TypeID               int16     `json:"typeId"`
	StatusID             int16     `json:"statusId"`
	UseTrustedConnection bool      `json:"useTrustedConnection"`
}

type databaseResponse struct {
	DatabaseID           uuid.UUID `json:"databaseId"`
	Name                 string    `json:"name"`
	ServerID             uuid.UUID `json:"serverId"`
	TypeID               int16     `json:"typeId"`
	StatusID             int16     `json:"statusId"`
	UseTrustedConnection bool      `json:"useTrustedConnection"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body databaseRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.problem(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	database, err := h.svc.Create(r.Context(), service.Database{
		Name:                 body.Name,
		ServerID:             body.ServerID,
		TypeID:               body.TypeID,
		StatusID:             body.StatusID,
		UseTrustedConnection: body.UseTrustedConnection,
	})
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, toResponse(database))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	databases, err := h.svc.List(r.Context())
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	out := make([]databaseResponse, 0, len(databases))
	for _, database := range databases {
		out = append(out, toResponse(database))
	}
	h.respond(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	databaseID, ok := h.databaseID(w, r)
	if !ok {
		return
	}
	database, err := h.svc.Get(r.Context(), databaseID)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toResponse(database))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	databaseID, ok := h.databaseID(w, r)
	if !ok {
		return
	}
	var body databaseRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.problem(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	database, err := h.svc.Update(r.Context(), service.Database{
		DatabaseID:           databaseID,
		Name:                 body.Name,
		ServerID:             body.ServerID,
		TypeID:               body.TypeID,
		StatusID:             body.StatusID,
		UseTrustedConnection: body.UseTrustedConnection,
	})
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toResponse(database))
}

// delete removes the record; ?physicalDrop=true also drops the database on
// its server.
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	databaseID, ok := h.databaseID(w, r)
	if !ok {
		return
	}
	physicalDrop := r.URL.Query().Get("physicalDrop") == "true"
	if err := h.svc.Delete(r.Context(), databaseID, physicalDrop); err != nil {
		h.problemForError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) databaseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	databaseID, err := uuid.Parse(chi.URLParam(r, "databaseID"))
	if err != nil {
		h.problem(w, http.StatusBadRequest, "invalid database id")
		return uuid.Nil, false
	}
	return databaseID, true
}

func toResponse(database service.Database) databaseResponse {
	return databaseResponse{
		DatabaseID:           database.DatabaseID,
		Name:                 database.Name,
		ServerID:             database.ServerID,
		TypeID:               database.TypeID,
		StatusID:             database.StatusID,
		UseTrustedConnection: database.UseTrustedConnection,
		CreatedAt:            database.CreatedAt,
		UpdatedAt:            database.UpdatedAt,
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
	case errors.Is(err, provisioning.ErrProvisioning):
		logging.FromContext(r.Context(), h.logger).Error("physical drop failed", zap.Error(err))
		h.problem(w, http.StatusBadGateway, err.Error())
	default:
		logging.FromContext(r.Context(), h.logger).Error("databases request failed", zap.Error(err))
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
