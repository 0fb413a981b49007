/*
Package handler provides the HTTP handler function for WebSocket connection upgrading.

This file contains HandleWebSocket, which rate limits upgrades per IP, verifies the identity
token when one is required, upgrades the connection and hands it to the Hub for its lifetime.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"pulse/internal/pkg/auth/jwt"
	"pulse/internal/pkg/errs"
	"pulse/internal/pkg/limiter"
	"pulse/internal/pkg/logx"
	"pulse/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// The handler blocks until the connection is closed.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)

		if !rateLimiter.Allow(ip) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "remote_ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		verifiedID, customErr := verifyIdentity(r, deps.Config.JWTSecret)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		deps.Hub.Serve(conn, verifiedID)
	}
}

// verifyIdentity returns the user id proven by the request token.
// With no secret configured identity is not enforced and "" is returned.
func verifyIdentity(r *http.Request, secretKey string) (string, *errs.CustomError) {
	if secretKey == "" {
		return "", nil
	}

	tokenString := jwt.TokenFromRequest(r)
	if tokenString == "" {
		logx.Warn("WebSocket request rejected: Missing token")
		return "", errs.NewError(errs.ErrUnauthorized)
	}

	payload, err := jwt.ParseToken(tokenString, secretKey)
	if err != nil {
		logx.Warn("WebSocket request rejected: Invalid token", "error", err.Error())
		return "", errs.NewError(errs.ErrUnauthorized)
	}

	if payload.IsService() {
		logx.Warn("WebSocket request rejected: Service tokens cannot open user sessions", "subject", payload.ID)
		return "", errs.NewError(errs.ErrUnauthorized)
	}

	return payload.ID, nil
}
