package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardgate/dbdirectory/domains/catalog/be/service"
	"github.com/shardgate/dbdirectory/platform/go/logging"
)

// Handler exposes server and database-type management over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("catalog service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/servers", h.createServer)
	r.Get("/servers", h.listServers)
	r.Get("/servers/{serverID}", h.getServer)
	r.Put("/servers/{serverID}", h.updateServer)
	r.Delete("/servers/{serverID}", h.deleteServer)

	r.Post("/types", h.createType)
	r.Get("/types", h.listTypes)
	r.Put("/types/{typeID}", h.renameType)
	r.Delete("/types/{typeID}", h.deleteType)
}

type serverRequest struct {
	Name           string  `json:"name"`
	HostName       *string `json:"hostName,omitempty"`
	FQDN           *string `json:"fqdn,omitempty"`
	IPAddress      *string `json:"ipAddress,omitempty"`
	IsLinkedServer bool    `json:"isLinkedServer"`
}

type serverResponse struct {
	ServerID       uuid.UUID `json:"serverId"`
	Name           string    `json:"name"`
	HostName       *string   `json:"hostName,omitempty"`
	FQDN           *string   `json:"fqdn,omitempty"`
	IPAddress      *string   `json:"ipAddress,omitempty"`
	IsLinkedServer bool      `json:"isLinkedServer"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (h *Handler) createServer(w http.ResponseWriter, r *http.Request) {
	var body serverRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.problem(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	server, err := h.svc.CreateServer(r.Context(), service.Server{
		Name:           body.Name,
		HostName:       body.HostName,
		FQDN:           body.FQDN,
		IPAddress:      body.IPAddress,
		IsLinkedServer: body.IsLinkedServer,
	})
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, toServerResponse(server))
}

func (h *Handler) listServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.svc.ListServers(r.Context())
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	out := make([]serverResponse, 0, len(servers))
	for _, server := range servers {
		out = append(out, toServerResponse(server))
	}
	h.respond(w, http.StatusOK, out)
}

func (h *Handler) getServer(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	server, err := h.svc.GetServer(r.Context(), serverID)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toServerResponse(server))
}

func (h *Handler) updateServer(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	var body serverRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.problem(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	server, err := h.svc.UpdateServer(r.Context(), service.Server{
		ServerID:       serverID,
		Name:           body.Name,
		HostName:       body.HostName,
		FQDN:           body.FQDN,
		IPAddress:      body.IPAddress,
		IsLinkedServer: body.IsLinkedServer,
	})
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toServerResponse(server))
}

func (h *Handler) deleteServer(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteServer(r.Context(), serverID); err != nil {
		h.problemForError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type typeRequest struct {
	TypeID int16  `json:"typeId,omitempty"`
	Name   string `json:"name"`
}

type typeResponse struct {
	TypeID int16  `json:"typeId"`
	Name   string `json:"name"`
}

func (h *Handler) createType(w http.ResponseWriter, r *http.Request) {
	var body typeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.problem(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	dbType, err := h.svc.CreateType(r.Context(), body.TypeID, body.Name)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, typeResponse{TypeID: dbType.TypeID, Name: dbType.Name})
}

func (h *Handler) listTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.svc.ListTypes(r.Context())
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	out := make([]typeResponse, 0, len(types))
	for _, dbType := range types {
		out = append(out, typeResponse{TypeID: dbType.TypeID, Name: dbType.Name})
	}
	h.respond(w, http.StatusOK, out)
}

func (h *Handler) renameType(w http.ResponseWriter, r *http.Request) {
	typeID, ok := h.typeID(w, r)
	if !ok {
		return
	}
	var body typeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.problem(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	dbType, err := h.svc.RenameType(r.Context(), typeID, body.Name)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, typeResponse{TypeID: dbType.TypeID, Name: dbType.Name})
}

func (h *Handler) deleteType(w http.ResponseWriter, r *http.Request) {
	typeID, ok := h.typeID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteType(r.Context(), typeID); err != nil {
		h.problemForError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) serverID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	serverID, err := uuid.Parse(chi.URLParam(r, "serverID"))
	if err != nil {
		h.problem(w, http.StatusBadRequest, "invalid server id")
		return uuid.Nil, false
	}
	return serverID, true
}

func (h *Handler) typeID(w http.ResponseWriter, r *http.Request) (int16, bool) {
	typeID, err := strconv.ParseInt(chi.URLParam(r, "typeID"), 10, 16)
	if err != nil {
		h.problem(w, http.StatusBadRequest, "invalid type id")
		return 0, false
	}
	return int16(typeID), true
}

func toServerResponse(server service.Server) serverResponse {
	return serverResponse{
		ServerID:       server.ServerID,
		Name:           server.Name,
		HostName:       server.HostName,
		FQDN:           server.FQDN,
		IPAddress:      server.IPAddress,
		IsLinkedServer: server.IsLinkedServer,
		CreatedAt:      server.CreatedAt,
		UpdatedAt:      server.UpdatedAt,
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
		logging.FromContext(r.Context(), h.logger).Error("catalog request failed", zap.Error(err))
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
