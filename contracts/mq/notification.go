package mq

import "time"

// NotificationPushPayload 推送到 user:<id> 房间的消息
type NotificationPushPayload struct {
	Type         string          `json:"type"`
	Notification PushedInboxItem `json:"notification"`
}

type PushedInboxItem struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Priority       string    `json:"priority"`
	ActionRequired bool      `json:"action_required"`
	ProjectID      *int64    `json:"project_id,omitempty"`
	MilestoneID    *int64    `json:"milestone_id,omitempty"`
	BidID          *int64    `json:"bid_id,omitempty"`
	PaymentID      *int64    `json:"payment_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
