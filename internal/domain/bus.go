package domain

import "time"

// PickupChange describes a write to a user's pickup rows.
type PickupChange struct {
	UserID   string    `json:"user_id"`
	PickupID string    `json:"pickup_id"`
	Kind     string    `json:"kind"`        // insert | update
	At       time.Time `json:"at,omitzero"` // set by the notifier when published
}

// PickupNotifier delivers change notifications for pickup rows.
type PickupNotifier interface {
	PublishPickupChange(change PickupChange)
	SubscribePickups(userID string, fn func(PickupChange)) (cancel func())
}
