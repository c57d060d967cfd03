package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ayusman/mudra/internal/auth"
	"github.com/ayusman/mudra/internal/store"
)

// UserHandler handles registration, login and user administration.
type UserHandler struct {
	store  *store.Store
	tokens *auth.Tokens
	logger *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(s *store.Store, tokens *auth.Tokens, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{store: s, tokens: tokens, logger: logger}
}

// RegisterRoutes mounts the account routes on r.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.register)
	r.Post("/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.tokens))
		r.Get("/me", h.me)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin(currentRole(h.store)))
			r.Get("/users", h.list)
			r.Put("/users/{id}/role", h.updateRole)
		})
	})
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string      `json:"message"`
	User    *store.User `json:"user"`
	Token   string      `json:"token"`
}

type userMessage struct {
	Message string      `json:"message"`
	User    *store.User `json:"user"`
}

type roleRequest struct {
	Role string `json:"role"`
}

// register handles POST /api/register.
func (h *UserHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Name, email and password are required")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "Invalid email")
		return
	}

	role := store.RoleUser
	if req.Role != "" {
		role = store.Role(req.Role)
		if !role.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid role")
			return
		}
		if role == store.RoleAdmin {
			writeError(w, http.StatusForbidden, "Admin accounts can only be granted by an admin")
			return
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	user := &store.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         role,
	}
	if err := h.store.Users().Create(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "Email already registered")
			return
		}
		h.logger.Error("failed to create user", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	h.logger.Info("user registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, userMessage{Message: "User registered successfully", User: user})
}

// login handles POST /api/login.
func (h *UserHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.store.Users().GetByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("failed to get user", "error", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	var hash string
	if user != nil {
		hash = user.PasswordHash
	}
	if err := auth.CheckPassword(hash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	token, err := h.tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		h.logger.Error("failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Message: "Login successful", User: user, Token: token})
}

// me handles GET /api/me.
func (h *UserHandler) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	user, err := h.store.Users().GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// list handles GET /api/users.
func (h *UserHandler) list(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.Users().List(r.Context())
	if err != nil {
		h.logger.Error("failed to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	if users == nil {
		users = []*store.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// updateRole handles PUT /api/users/{id}/role.
func (h *UserHandler) updateRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	role := store.Role(req.Role)
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid role")
		return
	}

	if err := h.store.Users().UpdateRole(r.Context(), id, role); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("failed to update role", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update role")
		return
	}

	user, err := h.store.Users().GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get user")
		return
	}

	claims, _ := auth.FromContext(r.Context())
	h.logger.Info("user role updated", "user_id", id, "role", role, "by", claims.UserID)
	writeJSON(w, http.StatusOK, userMessage{Message: "Role updated", User: user})
}
