/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains HandleWebSocket, which rate limits the handshake, authenticates the
presented token, upgrades the connection and hands it to the gateway.
*/
package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"agora/internal/app/chat"
	"agora/internal/pkg/errs"
	"agora/internal/pkg/limiter"
	"agora/internal/pkg/logx"
	"agora/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// A connection that fails authentication is still upgraded so the client receives an
// error frame and a 4401 close; it never reaches the gateway.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(limiter.ClientIP(r)))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		handle := uuid.NewString()
		identity, authErr := deps.Authenticator.Authenticate(handle, r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket", "conn_id", handle)
			return
		}

		if authErr != nil {
			chat.Reject(conn, authErr)
			return
		}

		logx.Info("WebSocket connection established", "conn_id", handle, "user_id", identity.ID)

		deps.Gateway.Serve(conn, handle, identity)
	}
}
