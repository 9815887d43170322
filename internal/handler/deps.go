package handler

import (
	"agora/internal/app/chat"
	"agora/internal/app/notify"
	"agora/internal/app/presence"
	"agora/internal/configs"
	"agora/internal/pkg/auth/jwt"
)

// AppDeps carries the services the HTTP layer routes into.
type AppDeps struct {
	Config        *configs.AppConfig
	Gateway       *chat.Gateway
	Registry      *presence.Registry
	Dispatcher    *notify.Dispatcher
	Verifier      *jwt.Verifier
	Authenticator *jwt.Authenticator
}
