package model

import "time"

// DeliveryStatus represents the state of one insight delivery to one user.
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// Valid returns true if the DeliveryStatus is one of the known states.
func (s DeliveryStatus) Valid() bool {
	return s == DeliveryStatusPending || s == DeliveryStatusSuccess || s == DeliveryStatusFailed
}

// DeliveryRecord tracks delivery of one insight to one user. At most one
// row exists per (insight, user); retries update the same row and a
// recorded success is never downgraded by a later failed attempt.
type DeliveryRecord struct {
	ID            int64          `json:"id"                       db:"id"`
	InsightID     int64          `json:"insight_id"               db:"insight_id"`
	UserID        string         `json:"user_id"                  db:"user_id"`
	Status        DeliveryStatus `json:"status"                   db:"status"`
	Attempts      int            `json:"attempts"                 db:"attempts"`
	MessageHandle *string        `json:"message_handle,omitempty" db:"message_handle"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"   db:"delivered_at"`
	ErrorMessage  *string        `json:"error_message,omitempty"  db:"error_message"`
}

// DeliveryAttempt captures the outcome of one send so the repository can
// upsert it without callers assembling row state.
type DeliveryAttempt struct {
	InsightID     int64
	UserID        string
	Status        DeliveryStatus
	MessageHandle string
	ErrorMessage  string
}
