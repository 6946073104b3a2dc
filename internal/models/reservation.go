package models

import "time"

// Reservation is a claim on a resource for a half-open interval.
// Rooms are booked per date range, tables per time window, but both are
// stored uniformly as [StartAt, EndAt) instants. Reservations are never
// deleted: cancellation and completion are status changes.
type Reservation struct {
	ID            int64     `json:"id"`
	Reference     string    `json:"reference"`
	ResourceID    int64     `json:"resource_id"`
	CustomerID    int64     `json:"customer_id"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	GuestCount    int64     `json:"guest_count"`
	GuestName     string    `json:"guest_name"`
	GuestPhone    string    `json:"guest_phone"`
	Comment       string    `json:"comment,omitempty"`
	Status        string    `json:"status"`         // pending, confirmed, cancelled, completed
	PaymentStatus string    `json:"payment_status"` // pending, completed, failed, refunded
	TotalAmount   float64   `json:"total_amount"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Version       int64     `json:"version"`
}

// Interval returns the occupied range as a value.
func (r *Reservation) Interval() Interval {
	return Interval{Start: r.StartAt, End: r.EndAt}
}

// ReservationRequest carries the client-supplied fields of a new reservation.
type ReservationRequest struct {
	ResourceID int64     `json:"resource_id"`
	CustomerID int64     `json:"customer_id"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	GuestCount int64     `json:"guest_count"`
	GuestName  string    `json:"guest_name"`
	GuestPhone string    `json:"guest_phone"`
	Comment    string    `json:"comment,omitempty"`
}
