package models

import (
	"fmt"
	"time"
)

// Resource is a bookable unit: a hotel room or a restaurant table.
// Resources are owned by a hotel or a restaurant and are immutable
// during a reservation transaction.
type Resource struct {
	ID        int64     `yaml:"id" json:"id"`
	OwnerID   int64     `yaml:"owner_id" json:"owner_id"`
	OwnerKind string    `yaml:"owner_kind" json:"owner_kind"` // hotel, restaurant
	Kind      string    `yaml:"kind" json:"kind"`             // room, table
	Name      string    `yaml:"name" json:"name"`
	Capacity  int64     `yaml:"capacity" json:"capacity"`
	Rate      float64   `yaml:"rate" json:"rate"`
	IsActive  bool      `yaml:"is_active" json:"is_active"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// Channel returns the broadcast topic for the resource's owner,
// e.g. "hotel_1" for all watchers of one hotel's reservation activity.
func (r *Resource) Channel() string {
	return ChannelKey(r.OwnerKind, r.OwnerID)
}

// ChannelKey builds a broadcast topic from an owner kind and id.
func ChannelKey(ownerKind string, ownerID int64) string {
	return fmt.Sprintf("%s_%d", ownerKind, ownerID)
}
