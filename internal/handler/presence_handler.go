package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"agora/internal/pkg/errs"
	"agora/internal/pkg/resp"
)

// PresenceView is the presence of one user as seen by this gateway.
type PresenceView struct {
	UserID      string     `json:"userId"`
	Online      bool       `json:"online"`
	Connections int        `json:"connections"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
}

// HandleListOnline returns the ids of every online user.
func HandleListOnline(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users := deps.Registry.ListOnline()
		if users == nil {
			users = []string{}
		}
		resp.RespondSuccess(w, r, map[string]any{"users": users})
	}
}

// HandleGetPresence returns the presence of the user named in the path.
func HandleGetPresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")
		if userID == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		view := PresenceView{
			UserID:      userID,
			Connections: len(deps.Registry.GetConnections(userID)),
		}
		view.Online = view.Connections > 0

		if at, ok := deps.Registry.LastSeen(userID); ok {
			view.LastSeen = &at
		}

		resp.RespondSuccess(w, r, view)
	}
}
