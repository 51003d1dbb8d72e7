package model

import (
	"time"

	"freelancehub/pkg/rbac"

	"github.com/shopspring/decimal"
)

type ProjectStatus string

const (
	ProjectOpenForBids ProjectStatus = "open_for_bids"
	ProjectInProgress  ProjectStatus = "in_progress"
	ProjectCompleted   ProjectStatus = "completed"
	ProjectCancelled   ProjectStatus = "cancelled"
)

// AcceptedBid 项目已接受的投标。Amount 无效时以项目预算为上限，DeliveryDays 为 0 表示未知
type AcceptedBid struct {
	BidID        int64               `json:"bid_id"`
	FreelancerID int64               `json:"freelancer_id"`
	Amount       decimal.NullDecimal `json:"amount"`
	DeliveryDays int                 `json:"delivery_days"`
}

type Project struct {
	ID        int64           `json:"id"`
	ClientID  int64           `json:"client_id"`
	Title     string          `json:"title"`
	Budget    decimal.Decimal `json:"budget"`
	StartDate *time.Time      `json:"start_date,omitempty"`
	Deadline  *time.Time      `json:"deadline,omitempty"`
	Status    ProjectStatus   `json:"status"`
	Bid       *AcceptedBid    `json:"accepted_bid,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (p *Project) FreelancerID() int64 {
	if p.Bid == nil {
		return 0
	}
	return p.Bid.FreelancerID
}

func (p *Project) BidID() *int64 {
	if p.Bid == nil {
		return nil
	}
	id := p.Bid.BidID
	return &id
}

// BudgetCeiling 金额上限：已接受投标金额，未记录时退回项目预算
func (p *Project) BudgetCeiling() (decimal.Decimal, string) {
	if p.Bid != nil && p.Bid.Amount.Valid {
		return p.Bid.Amount.Decimal, "accepted bid amount"
	}
	return p.Budget, "project budget"
}

func (p *Project) DeliveryDays() int {
	if p.Bid == nil {
		return 0
	}
	return p.Bid.DeliveryDays
}

func (p *Project) Participants() rbac.Participants {
	return rbac.Participants{ClientID: p.ClientID, FreelancerID: p.FreelancerID()}
}
