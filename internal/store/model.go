package store

import (
	"time"
)

// Record lifecycle. A post moves draft -> scheduled -> published|failed;
// published and failed are terminal. Bookings use draft -> confirmed and
// keep their status when reminders fire.
const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// Reminder channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// KindBookingReminder marks the single pre-appointment reminder per channel.
const KindBookingReminder = "booking-reminder"

type Post struct {
	ID          int64     `json:"id"`
	Platform    string    `json:"platform"`
	Content     string    `json:"content"`
	Hashtags    []string  `json:"hashtags,omitempty"`
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ExternalID  *string   `json:"external_id,omitempty"`
	Error       *string   `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Booking struct {
	ID           int64     `json:"id"`
	CustomerName string    `json:"customer_name"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Service      string    `json:"service"`
	StartsAt     time.Time `json:"starts_at"`
	Status       string    `json:"status"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ActionLog is the idempotence guard for side-effecting actions. One entry
// per (record id, channel, kind) means the action already succeeded and must
// not run again.
type ActionLog struct {
	RecordID   int64     `json:"record_id"`
	Channel    string    `json:"channel"`
	Kind       string    `json:"kind"`
	ExternalID *string   `json:"external_id,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

type Account struct {
	Platform     string `json:"platform"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Terminal reports whether a status allows no further transitions.
func Terminal(status string) bool {
	return status == StatusPublished || status == StatusFailed
}
