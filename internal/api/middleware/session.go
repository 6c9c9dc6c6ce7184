package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Rrens/healthchat/internal/api/response"
	"github.com/Rrens/healthchat/internal/chat"
	"github.com/Rrens/healthchat/internal/domain"
	"github.com/Rrens/healthchat/internal/service"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GuestIDHeader carries the identifier of an unauthenticated session
const GuestIDHeader = "X-Guest-ID"

type contextKey string

const (
	StoreKey       contextKey = "store"
	IdentityKey    contextKey = "identity"
	AccessTokenKey contextKey = "accessToken"
)

// SessionMiddleware attaches the caller's conversation store to the request
type SessionMiddleware struct {
	auth     service.Authenticator
	registry *chat.Registry
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(auth service.Authenticator, registry *chat.Registry) *SessionMiddleware {
	return &SessionMiddleware{auth: auth, registry: registry}
}

// Resolve authenticates a bearer token when one is sent and falls back to a
// guest session otherwise. Guests without a valid X-Guest-ID get a new one,
// echoed back in the response header.
func (m *SessionMiddleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				response.Unauthorized(w, "invalid authorization header format")
				return
			}

			identity, err := m.auth.Verify(ctx, parts[1])
			if err != nil {
				if errors.Is(err, domain.ErrInvalidToken) {
					response.Unauthorized(w, "invalid or expired token")
					return
				}
				log.Error().Err(err).Msg("failed to verify access token")
				response.InternalError(w, "failed to verify access token")
				return
			}

			store := m.registry.ForUser(ctx, *identity)
			ctx = context.WithValue(ctx, IdentityKey, *identity)
			ctx = context.WithValue(ctx, AccessTokenKey, parts[1])
			ctx = context.WithValue(ctx, StoreKey, store)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		guestID := r.Header.Get(GuestIDHeader)
		if _, err := uuid.Parse(guestID); err != nil {
			guestID = uuid.NewString()
		}
		w.Header().Set(GuestIDHeader, guestID)

		ctx = context.WithValue(ctx, StoreKey, m.registry.ForGuest(guestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects guest sessions
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetIdentity(r.Context()); !ok {
			response.Unauthorized(w, "sign in required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStore gets the session's conversation store from context
func GetStore(ctx context.Context) (*chat.Store, bool) {
	store, ok := ctx.Value(StoreKey).(*chat.Store)
	return store, ok
}

// GetIdentity gets the authenticated identity from context
func GetIdentity(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(domain.Identity)
	return identity, ok
}

// GetAccessToken gets the bearer token the request was authenticated with
func GetAccessToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(AccessTokenKey).(string)
	return token, ok
}
