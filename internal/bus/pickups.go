package bus

import (
	"time"

	"greencycle/internal/domain"
)

// PublishPickupChange emits a pickup.changed event stamped with the publish
// time. Delivery is async so a slow subscriber never holds up the write that
// caused it.
func (eb *EventBus) PublishPickupChange(c domain.PickupChange) {
	if c.At.IsZero() {
		c.At = eb.now()
	}
	eb.EmitAsync(Event{
		Type:      EventPickupChanged,
		Source:    "store",
		Timestamp: c.At,
		Payload: map[string]any{
			"user_id":   c.UserID,
			"pickup_id": c.PickupID,
			"kind":      c.Kind,
		},
	})
}

// SubscribePickups invokes fn for every change to userID's pickup rows.
func (eb *EventBus) SubscribePickups(userID string, fn func(domain.PickupChange)) (cancel func()) {
	id := eb.On(EventPickupChanged, func(e Event) {
		c, ok := pickupChange(e)
		if !ok || c.UserID != userID {
			return
		}
		fn(c)
	})
	return func() { eb.Off(EventPickupChanged, id) }
}

// PickupsSince returns userID's recorded changes at or after since, oldest
// first. Changes older than the history window are gone.
func (eb *EventBus) PickupsSince(userID string, since time.Time) []domain.PickupChange {
	var out []domain.PickupChange
	for _, e := range eb.Replay(EventPickupChanged, since) {
		if c, ok := pickupChange(e); ok && c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

func pickupChange(e Event) (domain.PickupChange, bool) {
	user, _ := e.Payload["user_id"].(string)
	if user == "" {
		return domain.PickupChange{}, false
	}
	pickup, _ := e.Payload["pickup_id"].(string)
	kind, _ := e.Payload["kind"].(string)
	return domain.PickupChange{UserID: user, PickupID: pickup, Kind: kind, At: e.Timestamp}, true
}

var _ domain.PickupNotifier = (*EventBus)(nil)
