package domain

import (
	"context"
	"time"
)

// PickupStatus is the lifecycle state of a pickup record.
type PickupStatus string

const (
	StatusScheduled  PickupStatus = "scheduled"
	StatusInProgress PickupStatus = "in_progress"
	StatusCompleted  PickupStatus = "completed"
	StatusCancelled  PickupStatus = "cancelled"
)

// OpenStatuses are the states of a pickup that has not happened yet.
var OpenStatuses = []PickupStatus{StatusScheduled, StatusInProgress}

// ServiceTypes accepted by the scheduling form.
var ServiceTypes = []string{"residential", "commercial", "recycling"}

// DateLayout is the storage format of Pickup.Date.
const DateLayout = "2006-01-02"

// Pickup is a scheduled waste collection owned by a user.
type Pickup struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id" validate:"required"`
	Date        string       `json:"pickup_date" validate:"required,datetime=2006-01-02"`
	TimeWindow  string       `json:"pickup_time" validate:"required"`
	Address     string       `json:"address" validate:"required,max=500"`
	ServiceType string       `json:"service_type" validate:"required,oneof=residential commercial recycling"`
	Status      PickupStatus `json:"status" validate:"required"`
	Notes       string       `json:"notes,omitempty" validate:"max=2000"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Table names exposed by the record store.
const TablePickups = "pickups"

// FilterOp is a comparison used in a record query.
type FilterOp string

const (
	OpEq  FilterOp = "eq"
	OpGte FilterOp = "gte"
	OpLt  FilterOp = "lt"
	OpIn  FilterOp = "in"
)

// Filter restricts a query to rows where Column <Op> Value.
// For OpIn, Value must be a slice.
type Filter struct {
	Column string
	Op     FilterOp
	Value  any
}

// Order sorts query results by Column.
type Order struct {
	Column     string
	Descending bool
}

// Query describes a read against the record store.
type Query struct {
	Table   string
	Filters []Filter
	Order   []Order
	Limit   int // 0 = no limit
}

// RecordStore is the read side of the data service used by the assistant.
type RecordStore interface {
	QueryRecords(ctx context.Context, q Query) ([]Pickup, error)
}
