/*
Package notify delivers targeted notifications to every live connection of a user.

The Dispatcher resolves a user's connections through the presence registry and fans the
notification out to all of them. When the user has no live connection the notification is
handed to the persistence store as unread; the gateway never retries delivery itself.
*/
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agora/internal/app/chat"
	"agora/internal/app/persist"
	"agora/internal/pkg/errs"
	"agora/internal/pkg/logx"
)

// Notification is created by an external producer and addressed to one user.
type Notification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Locator splits a user's connections into local and remote handles.
type Locator interface {
	Locality(userID string) (local, remote []string)
}

// Emitter writes a frame to one local connection.
type Emitter interface {
	Emit(handle string, frame []byte) bool
}

// Relay forwards a notification to the nodes that own the user's remote connections.
// It reports false when the notification could not be queued.
type Relay interface {
	RelayNotification(n Notification) bool
}

// UnreadStore is the persistence collaborator for notifications nobody was online to receive.
type UnreadStore interface {
	StoreUnreadNotification(ctx context.Context, n Notification) error
}

// Delivery is the routing outcome of one Dispatch call.
type Delivery struct {
	NotificationID string `json:"id"`

	// Delivered counts local connections that accepted the frame.
	Delivered int `json:"delivered"`

	// Relayed is set when the notification was forwarded to other nodes.
	Relayed bool `json:"relayed"`

	// Deferred is set when no live connection could take the notification.
	Deferred bool `json:"deferred"`

	// Stored is the unread-storage task of a deferred delivery.
	Stored *persist.Task `json:"-"`
}

// Outcome returns ErrDeliveryDeferred for a deferred delivery and nil otherwise.
func (d Delivery) Outcome() *errs.CustomError {
	if d.Deferred {
		return errs.NewError(errs.ErrDeliveryDeferred)
	}
	return nil
}

// Dispatcher routes notifications to live connections.
type Dispatcher struct {
	locator Locator
	emitter Emitter
	relay   Relay
	store   UnreadStore
	runner  *persist.Runner

	now    func() time.Time
	logger zerolog.Logger
}

// NewDispatcher builds a Dispatcher. store and runner may be nil, in which case deferred
// notifications are only logged.
func NewDispatcher(locator Locator, emitter Emitter, store UnreadStore, runner *persist.Runner) *Dispatcher {
	return &Dispatcher{
		locator: locator,
		emitter: emitter,
		store:   store,
		runner:  runner,
		now:     time.Now,
		logger:  logx.Component("dispatcher"),
	}
}

// SetRelay installs the cross-node relay.
func (d *Dispatcher) SetRelay(relay Relay) {
	d.relay = relay
}

// Dispatch delivers n to every connection of n.UserID. A missing ID or CreatedAt is filled in.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}
	if n.UserID == "" {
		return Delivery{}, errs.NewError(errs.ErrInvalidParams)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now().UTC()
	}

	local, remote := d.locator.Locality(n.UserID)

	delivery := Delivery{NotificationID: n.ID}
	delivery.Delivered = d.emit(n, local)

	if len(remote) > 0 && d.relay != nil {
		delivery.Relayed = d.relay.RelayNotification(n)
		if !delivery.Relayed {
			d.logger.Warn().Str("notification_id", n.ID).Str("user_id", n.UserID).Msg("Relay refused notification.")
		}
	}

	if delivery.Delivered > 0 || delivery.Relayed {
		d.logger.Debug().
			Str("notification_id", n.ID).
			Str("user_id", n.UserID).
			Int("delivered", delivery.Delivered).
			Bool("relayed", delivery.Relayed).
			Msg("Notification delivered.")
		return delivery, nil
	}

	delivery.Deferred = true
	delivery.Stored = d.storeUnread(n)

	d.logger.Info().
		Str("notification_id", n.ID).
		Str("user_id", n.UserID).
		Int("connections", len(local)+len(remote)).
		Msg("Recipient offline; notification stored as unread.")

	return delivery, nil
}

// DeliverLocal emits n to the user's connections on this node only. It is the receiving
// end of a relay and never stores anything.
func (d *Dispatcher) DeliverLocal(n Notification) int {
	local, _ := d.locator.Locality(n.UserID)
	return d.emit(n, local)
}

func (d *Dispatcher) emit(n Notification, handles []string) int {
	if len(handles) == 0 {
		return 0
	}

	frame, err := chat.EncodeFrame(chat.EventNotificationNew, n)
	if err != nil {
		d.logger.Error().Err(err).Str("notification_id", n.ID).Msg("Failed to encode notification frame.")
		return 0
	}

	delivered := 0
	for _, handle := range handles {
		if d.emitter.Emit(handle, frame) {
			delivered++
		}
	}
	return delivered
}

func (d *Dispatcher) storeUnread(n Notification) *persist.Task {
	if d.store == nil || d.runner == nil {
		return nil
	}

	return d.runner.Go(persist.Op{
		Name: "store_unread_notification",
		Fields: map[string]string{
			"notification_id": n.ID,
			"user_id":         n.UserID,
			"created_at":      n.CreatedAt.Format(time.RFC3339Nano),
		},
		Payload: n,
		Run: func(ctx context.Context) error {
			return d.store.StoreUnreadNotification(ctx, n)
		},
	})
}
