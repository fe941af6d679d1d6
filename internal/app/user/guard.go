package user

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"ultramedic/internal/pkg/auth/jwt"
	"ultramedic/internal/pkg/capability"
	"ultramedic/internal/pkg/errs"
	"ultramedic/internal/pkg/logx"
)

// SessionChecker reports whether an issued token is still registered (not logged out).
type SessionChecker interface {
	IsActive(ctx context.Context, token string) (bool, error)
}

// Guard resolves bearer tokens to users and checks capabilities.
type Guard struct {
	repo      Repository
	sessions  SessionChecker
	jwtSecret string
	logger    zerolog.Logger
}

// NewGuard builds a Guard. sessions may be nil to skip revocation checks.
func NewGuard(repo Repository, sessions SessionChecker, jwtSecret string) *Guard {
	return &Guard{
		repo:      repo,
		sessions:  sessions,
		jwtSecret: jwtSecret,
		logger:    logx.Component("Guard"),
	}
}

// Authenticate verifies token and loads its user. Every failure, including a
// subject that no longer exists, surfaces as ErrUnauthenticated.
func (g *Guard) Authenticate(ctx context.Context, token string) (*User, *errs.CustomError) {
	if token == "" {
		return nil, errs.NewError(errs.ErrUnauthenticated)
	}

	payload, err := jwt.ParseToken(token, g.jwtSecret)
	if err != nil {
		g.logger.Debug().Err(err).Msg("Rejected invalid token")
		return nil, errs.NewError(errs.ErrUnauthenticated)
	}

	if g.sessions != nil {
		active, err := g.sessions.IsActive(ctx, token)
		if err != nil {
			g.logger.Error().Err(err).Msg("Session lookup failed")
			return nil, errs.NewError(errs.ErrStoreUnavailable)
		}
		if !active {
			g.logger.Debug().Str("user_id", payload.UserID()).Msg("Rejected revoked token")
			return nil, errs.NewError(errs.ErrUnauthenticated)
		}
	}

	u, err := g.repo.GetUserByID(ctx, payload.UserID())
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			g.logger.Warn().Str("user_id", payload.UserID()).Msg("Token subject no longer exists")
			return nil, errs.NewError(errs.ErrUnauthenticated)
		}
		g.logger.Error().Err(err).Str("user_id", payload.UserID()).Msg("User lookup failed")
		return nil, errs.NewError(errs.ErrStoreUnavailable)
	}

	return u, nil
}

// Authorize fails with ErrPermissionDenied unless u holds required.
func (g *Guard) Authorize(u *User, required capability.Capability) *errs.CustomError {
	if u == nil || !u.Capabilities().Has(required) {
		id := ""
		if u != nil {
			id = u.ID
		}
		g.logger.Info().Str("user_id", id).Str("capability", required.String()).Msg("Permission denied")
		return errs.NewError(errs.ErrPermissionDenied)
	}
	return nil
}
