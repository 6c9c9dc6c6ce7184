package handler

import (
	"errors"
	"net/http"

	"github.com/Rrens/healthchat/internal/api/middleware"
	"github.com/Rrens/healthchat/internal/api/response"
	"github.com/Rrens/healthchat/internal/chat"
	"github.com/Rrens/healthchat/internal/domain"
	"github.com/Rrens/healthchat/internal/service"
	"github.com/rs/zerolog/log"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	auth     service.Authenticator
	registry *chat.Registry
	credits  *Credits
	// exposeResetToken returns reset tokens in the response, for
	// deployments without a mail sender
	exposeResetToken bool
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth service.Authenticator, registry *chat.Registry, credits *Credits, exposeResetToken bool) *AuthHandler {
	return &AuthHandler{
		auth:             auth,
		registry:         registry,
		credits:          credits,
		exposeResetToken: exposeResetToken,
	}
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input domain.UserCreate
	if !decode(w, r, &input) {
		return
	}

	user, err := h.auth.SignUp(r.Context(), input)
	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			response.Conflict(w, err.Error())
			return
		}
		log.Error().Err(err).Msg("failed to register user")
		response.InternalError(w, "failed to register user")
		return
	}

	response.Created(w, map[string]any{
		"id":    user.ID,
		"email": user.Email,
	})
}

// Login handles user login. Signing in restores the user's credits.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input domain.UserLogin
	if !decode(w, r, &input) {
		return
	}

	tokens, err := h.auth.SignIn(r.Context(), input)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			response.Unauthorized(w, domain.ErrInvalidCredentials.Error())
			return
		}
		log.Error().Err(err).Msg("failed to sign in")
		response.InternalError(w, "failed to sign in")
		return
	}

	if identity, err := h.auth.Verify(r.Context(), tokens.AccessToken); err == nil {
		h.credits.ResetUser(r.Context(), identity.UserID)
	} else {
		log.Warn().Err(err).Msg("failed to resolve identity after sign in")
	}

	response.OK(w, tokens)
}

// Refresh handles token refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var input struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if !decode(w, r, &input) {
		return
	}

	tokens, err := h.auth.Refresh(r.Context(), input.RefreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			response.Unauthorized(w, domain.ErrInvalidToken.Error())
			return
		}
		log.Error().Err(err).Msg("failed to refresh token")
		response.InternalError(w, "failed to refresh token")
		return
	}

	response.OK(w, tokens)
}

// Logout revokes the access token and forgets the session's store
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.GetAccessToken(r.Context())
	if err := h.auth.SignOut(r.Context(), token); err != nil {
		log.Error().Err(err).Msg("failed to sign out")
		response.InternalError(w, "failed to sign out")
		return
	}

	if store, ok := middleware.GetStore(r.Context()); ok {
		h.registry.Drop(store.Session())
	}
	response.NoContent(w)
}

// RequestPasswordReset starts the reset flow. The answer is the same whether
// or not the account exists.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var input domain.PasswordResetRequest
	if !decode(w, r, &input) {
		return
	}

	token, err := h.auth.RequestPasswordReset(r.Context(), input.Email)
	if err != nil {
		log.Error().Err(err).Msg("failed to request password reset")
		response.InternalError(w, "failed to request password reset")
		return
	}

	body := map[string]any{
		"message": "if the account exists, password reset instructions have been sent",
	}
	if h.exposeResetToken && token != "" {
		body["reset_token"] = token
	}
	response.Accepted(w, body)
}

// ConfirmPasswordReset sets a new password with a reset token
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var input domain.PasswordResetConfirm
	if !decode(w, r, &input) {
		return
	}

	if err := h.auth.ResetPassword(r.Context(), input.Token, input.Password); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidToken):
			response.BadRequest(w, domain.ErrInvalidToken.Error())
		case errors.Is(err, errors.ErrUnsupported):
			response.Error(w, http.StatusNotImplemented, err.Error())
		default:
			log.Error().Err(err).Msg("failed to reset password")
			response.InternalError(w, "failed to reset password")
		}
		return
	}

	response.OK(w, map[string]string{"message": "password updated"})
}
