package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardgate/dbdirectory/domains/dbusers/be/provisioning"
	"github.com/shardgate/dbdirectory/domains/dbusers/be/service"
	"github.com/shardgate/dbdirectory/platform/go/logging"
	"github.com/shardgate/dbdirectory/platform/go/roles"
)

// Handler exposes database user management over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("dbusers service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the handler under the given router. Every mutating endpoint
// accepts an affectDatabase flag, defaulting to true, that controls whether
// physical SQL side effects are performed.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/users", h.create)
	r.Get("/users", h.list)
	r.Get("/users/{userID}", h.get)
	r.Delete("/users/{userID}", h.delete)
	r.Put("/users/{userID}/password", h.rotatePassword)
	r.Put("/users/{userID}/name", h.rename)
	r.Post("/users/{userID}/roles/{role}", h.grantRole)
	r.Delete("/users/{userID}/roles/{role}", h.revokeRole)
}

type createUserRequest struct {
	UserName       string      `json:"userName"`
	Password       string      `json:"password"`
	Databases      []uuid.UUID `json:"databases"`
	Roles          []string    `json:"roles,omitempty"`
	AffectDatabase *bool       `json:"affectDatabase,omitempty"`
}

type userResponse struct {
	UserID    uuid.UUID   `json:"userId"`
	UserName  string      `json:"userName"`
	Roles     []string    `json:"roles"`
	Databases []uuid.UUID `json:"databases"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.problem(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := service.CreateUserRequest{
		UserName:       body.UserName,
		Password:       body.Password,
		Databases:      body.Databases,
		AffectDatabase: affectDatabase(body.AffectDatabase),
	}
	for _, name := range body.Roles {
		role, err := roles.Parse(name)
		if err != nil {
			h.problem(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Roles = append(req.Roles, role)
	}

	user, err := h.svc.CreateUser(r.Context(), req)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, toUserResponse(user))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, user := range users {
		out = append(out, toUserResponse(user))
	}
	h.respond(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	user, err := h.svc.GetUser(r.Context(), userID)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteUser(r.Context(), userID, affectDatabaseQuery(r)); err != nil {
		h.problemForError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rotatePasswordRequest struct {
	Password       string `json:"password"`
	AffectDatabase *bool  `json:"affectDatabase,omitempty"`
}

func (h *Handler) rotatePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var body rotatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.problem(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.svc.RotatePassword(r.Context(), userID, body.Password, affectDatabase(body.AffectDatabase)); err != nil {
		h.problemForError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	UserName       string `json:"userName"`
	AffectDatabase *bool  `json:"affectDatabase,omitempty"`
}

func (h *Handler) rename(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var body renameRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.problem(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.svc.RenameUser(r.Context(), userID, body.UserName, affectDatabase(body.AffectDatabase)); err != nil {
		h.problemForError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) grantRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	role, err := roles.Parse(chi.URLParam(r, "role"))
	if err != nil {
		h.problem(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.GrantRole(r.Context(), userID, role, affectDatabaseQuery(r)); err != nil {
		h.problemForError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	role, err := roles.Parse(chi.URLParam(r, "role"))
	if err != nil {
		h.problem(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.RevokeRole(r.Context(), userID, role, affectDatabaseQuery(r)); err != nil {
		h.problemForError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.problem(w, http.StatusBadRequest, "invalid user id")
		return uuid.Nil, false
	}
	return userID, true
}

func affectDatabase(flag *bool) bool {
	return flag == nil || *flag
}

// affectDatabaseQuery reads the flag from the query string for endpoints
// without a body. Absent means true.
func affectDatabaseQuery(r *http.Request) bool {
	return r.URL.Query().Get("affectDatabase") != "false"
}

func toUserResponse(user service.User) userResponse {
	names := make([]string, 0, len(user.Roles))
	for _, role := range user.Roles {
		names = append(names, string(role))
	}
	return userResponse{
		UserID:    user.UserID,
		UserName:  user.UserName,
		Roles:     names,
		Databases: user.Databases,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

func (h *Handler) problemForError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		h.problem(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		h.problem(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		h.problem(w, http.StatusConflict, err.Error())
	case errors.Is(err, provisioning.ErrProvisioning):
		logging.FromContext(r.Context(), h.logger).Error("provisioning failed", zap.Error(err))
		h.problem(w, http.StatusBadGateway, err.Error())
	default:
		logging.FromContext(r.Context(), h.logger).Error("dbusers request failed", zap.Error(err))
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
