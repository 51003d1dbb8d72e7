package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentHeld      PaymentStatus = "held"
	PaymentReleased  PaymentStatus = "released"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Active 已托管或已放款的付款，存在时不能再次注资
func (s PaymentStatus) Active() bool {
	return s == PaymentHeld || s == PaymentReleased || s == PaymentCompleted
}

type EscrowPayment struct {
	ID               int64           `json:"id"`
	MilestoneID      int64           `json:"milestone_id"`
	ProjectID        int64           `json:"project_id"`
	ClientID         int64           `json:"client_id"`
	FreelancerID     int64           `json:"freelancer_id"`
	Amount           decimal.Decimal `json:"amount"`
	PlatformFee      decimal.Decimal `json:"platform_fee"`
	FreelancerAmount decimal.Decimal `json:"freelancer_amount"`
	Status           PaymentStatus   `json:"status"`
	TransactionID    string          `json:"transaction_id"`
	CreatedAt        time.Time       `json:"created_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	ReleasedAt       *time.Time      `json:"released_at,omitempty"`
}

type LedgerEntryType string

const (
	LedgerFundHold      LedgerEntryType = "fund_hold"
	LedgerEscrowRelease LedgerEntryType = "escrow_release"
	LedgerPlatformFee   LedgerEntryType = "platform_fee"
)

// LedgerTransaction 只追加的资金流水，Amount 带符号：客户注资为负，自由职业者收款为正
type LedgerTransaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	PaymentID   int64           `json:"payment_id"`
	MilestoneID int64           `json:"milestone_id"`
	EntryType   LedgerEntryType `json:"entry_type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}
