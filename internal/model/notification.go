package model

import "time"

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

type Notification struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	EventID        string     `json:"event_id"`
	Type           string     `json:"type"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	Priority       string     `json:"priority"`
	ActionRequired bool       `json:"action_required"`
	IsRead         bool       `json:"is_read"`
	ProjectID      *int64     `json:"project_id,omitempty"`
	MilestoneID    *int64     `json:"milestone_id,omitempty"`
	BidID          *int64     `json:"bid_id,omitempty"`
	PaymentID      *int64     `json:"payment_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}
