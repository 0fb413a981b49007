/*
Package handler provides HTTP handler functions for presence queries and server-side notifications.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"pulse/internal/pkg/auth/jwt"
	"pulse/internal/pkg/errs"
	"pulse/internal/pkg/logx"
	"pulse/internal/pkg/randx"
	"pulse/internal/pkg/req"
	"pulse/internal/pkg/resp"
)

type PresenceOutput struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type NotificationInput struct {
	UserID  string `json:"userId"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type NotificationOutput struct {
	Delivered bool `json:"delivered"`
}

// HandleGetPresence reports whether one user is connected.
func HandleGetPresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")
		if !randx.IsValidIdentity(userID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		resp.RespondSuccess(w, r, PresenceOutput{UserID: userID, Online: deps.Hub.Online(userID)})
	}
}

// HandleListPresence lists every connected user.
func HandleListPresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string][]string{"users": deps.Hub.OnlineUsers()})
	}
}

// HandleSendNotification delivers a new_notification on behalf of a backend service.
// When tokens are enforced only service tokens may call it.
func HandleSendNotification(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Config.JWTSecret != "" {
			if payload := jwt.GetPayloadFromContext(r); payload == nil || !payload.IsService() {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}
		}

		var input NotificationInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if !randx.IsValidIdentity(input.UserID) || input.Type == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if limit := deps.Config.Realtime.MaxContentBytes; len(input.Message) > limit {
			tooLong := errs.NewError(errs.ErrContentTooLong, limit)
			tooLong.Status = http.StatusRequestEntityTooLarge
			resp.RespondError(w, r, tooLong)
			return
		}

		delivered := deps.Hub.Notify(input.UserID, input.Type, input.Message)

		logx.Info("Notification requested", "target", input.UserID, "type", input.Type, "delivered", delivered)
		resp.RespondSuccess(w, r, NotificationOutput{Delivered: delivered})
	}
}

// HandleStats returns connection, user and room counts.
func HandleStats(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, deps.Hub.Stats())
	}
}
