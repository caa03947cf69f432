package model

import "time"

// Location is a place that can hold stock: a store, warehouse or pickup point.
type Location struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	IsDefault           bool       `json:"is_default"`
	IsFulfillmentCenter bool       `json:"is_fulfillment_center"`
	IsPickupLocation    bool       `json:"is_pickup_location"`
	CreatedAt           time.Time  `json:"created_at"`
	DeletedAt           *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the location has not been deleted.
func (l *Location) Active() bool {
	return l != nil && l.DeletedAt == nil
}
