package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"agora/internal/app/notify"
	"agora/internal/pkg/auth/jwt"
	"agora/internal/pkg/errs"
	"agora/internal/pkg/logx"
	"agora/internal/pkg/req"
	"agora/internal/pkg/resp"
)

type DispatchNotificationInput struct {
	// UserID is the recipient.
	UserID string `json:"userId"`

	// Payload is forwarded to the recipient's connections untouched.
	Payload json.RawMessage `json:"payload"`
}

// HandleDispatchNotification creates an HTTP HandlerFunc through which a producer
// pushes a notification to a user. A deferred delivery answers 202 Accepted.
func HandleDispatchNotification(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input DispatchNotificationInput

		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		input.UserID = strings.TrimSpace(input.UserID)
		if input.UserID == "" || len(input.Payload) == 0 {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		delivery, err := deps.Dispatcher.Dispatch(r.Context(), notify.Notification{
			UserID:  input.UserID,
			Payload: input.Payload,
		})
		if err != nil {
			var customErr *errs.CustomError
			if errors.As(err, &customErr) {
				resp.RespondError(w, r, customErr)
				return
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		producer, _ := jwt.IdentityFromContext(r.Context())
		logx.Info("Notification dispatched",
			"notification_id", delivery.NotificationID,
			"producer_id", producer.ID,
			"delivered", delivery.Delivered,
			"deferred", delivery.Deferred,
		)

		if outcome := delivery.Outcome(); outcome != nil {
			resp.RespondWithStatus(w, r, outcome.Status, delivery)
			return
		}
		resp.RespondSuccess(w, r, delivery)
	}
}
