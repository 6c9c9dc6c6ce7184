package supabase

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rrens/healthchat/internal/domain"
	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/supabase-go"
)

// Authenticator delegates identity to Supabase Auth. The gotrue client
// carries no context, so ctx is checked before each call only.
type Authenticator struct {
	auth gotrue.Client
}

// NewAuthenticator creates an authenticator backed by the project's auth service
func NewAuthenticator(client *supabase.Client) *Authenticator {
	return &Authenticator{auth: client.Auth}
}

func (a *Authenticator) SignUp(ctx context.Context, input domain.UserCreate) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := a.auth.Signup(types.SignupRequest{
		Email:    input.Email,
		Password: input.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}
	return &domain.User{ID: resp.ID, Email: resp.Email}, nil
}

func (a *Authenticator) SignIn(ctx context.Context, input domain.UserLogin) (*domain.TokenPair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := a.auth.SignInWithEmailPassword(input.Email, input.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCredentials, err)
	}
	return &domain.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    int64(resp.ExpiresIn),
	}, nil
}

func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := a.auth.RefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	return &domain.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    int64(resp.ExpiresIn),
	}, nil
}

// Verify resolves an access token to the user it was issued for
func (a *Authenticator) Verify(ctx context.Context, accessToken string) (*domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	user, err := a.auth.WithToken(accessToken).GetUser()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	return &domain.Identity{UserID: user.ID.String(), Email: user.Email}, nil
}

func (a *Authenticator) SignOut(ctx context.Context, accessToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.auth.WithToken(accessToken).Logout(); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// RequestPasswordReset asks Supabase to email a recovery link. No token is
// returned to the caller.
func (a *Authenticator) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := a.auth.Recover(types.RecoverRequest{Email: email}); err != nil {
		return "", fmt.Errorf("failed to request password reset: %w", err)
	}
	return "", nil
}

// ResetPassword is completed on the Supabase-hosted recovery page
func (a *Authenticator) ResetPassword(ctx context.Context, token, password string) error {
	return fmt.Errorf("password reset is completed through the recovery email: %w", errors.ErrUnsupported)
}
