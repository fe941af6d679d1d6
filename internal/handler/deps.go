package handler

import (
	"context"
	"time"

	"ultramedic/internal/app/dispatch"
	"ultramedic/internal/app/user"
	"ultramedic/internal/configs"
)

// SessionRegistry records issued tokens so logout can revoke them.
type SessionRegistry interface {
	Register(ctx context.Context, token, userID string, expiresAt time.Time) error
	Revoke(ctx context.Context, token string) error
}

type AppDeps struct {
	Config   *configs.AppConfig
	Guard    *user.Guard
	Users    user.Repository
	Sessions SessionRegistry
	Dispatch *dispatch.Service
}
