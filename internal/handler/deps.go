package handler

import (
	"context"

	"nook/internal/app/chat"
	"nook/internal/app/events"
	"nook/internal/app/signal"
	"nook/internal/configs"
	"nook/internal/pkg/auth"
)

// SessionService validates and revokes session tokens.
type SessionService interface {
	auth.Validator
	Revoke(ctx context.Context, token string) error
}

// NameDirectory resolves the display name of an identity.
type NameDirectory interface {
	DisplayName(ctx context.Context, id string) (string, error)
}

// AppDeps carries the long-lived components every handler needs.
type AppDeps struct {
	Config   *configs.AppConfig
	Sessions SessionService
	Accounts NameDirectory
	Chat     *chat.Registry
	Signals  *signal.Hub
	Events   events.Publisher
}
