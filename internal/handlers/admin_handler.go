package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ks-hl/snailpoints/internal/auth"
	pkghttp "github.com/ks-hl/snailpoints/pkg/http"
)

// AdminServiceInterface defines the administrative account operations
type AdminServiceInterface interface {
	SetPassword(ctx context.Context, adminID, username, newPassword string) error
	UnbanAddress(ctx context.Context, adminID, address string) error
}

// AdminHandler handles admin HTTP requests
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// SetPasswordRequest represents the request body for an admin password override
type SetPasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required"`
}

// SetPassword handles POST /admin/accounts/{username}/password
func (h *AdminHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	username := chi.URLParam(r, "username")
	if username == "" {
		pkghttp.WriteBadRequest(w, "username is required")
		return
	}

	var req SetPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.SetPassword(r.Context(), claims.UserID, username, req.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password set"})
}

// UnbanAddress handles POST /admin/sources/{address}/unban
func (h *AdminHandler) UnbanAddress(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	address := chi.URLParam(r, "address")
	if address == "" {
		pkghttp.WriteBadRequest(w, "address is required")
		return
	}

	if err := h.service.UnbanAddress(r.Context(), claims.UserID, address); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Address unbanned"})
}
