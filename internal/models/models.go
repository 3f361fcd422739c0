package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"propledger/internal/money"

	"github.com/shopspring/decimal"
)

type Wallet struct {
	ID                string     `db:"id" json:"id"`
	OwnerID           string     `db:"owner_id" json:"owner_id"`
	Balance           int64      `db:"balance" json:"balance"`
	TotalDeposited    int64      `db:"total_deposited" json:"total_deposited"`
	TotalWithdrawn    int64      `db:"total_withdrawn" json:"total_withdrawn"`
	LastTransactionAt *time.Time `db:"last_transaction_at" json:"last_transaction_at,omitempty"`
	IsActive          bool       `db:"is_active" json:"is_active"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// BalanceMajor is the display form of Balance. It is never stored.
func (w Wallet) BalanceMajor() string {
	return money.FormatMinor(w.Balance)
}

// Metadata is a free-form JSON object persisted as JSONB.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
	}
	*m = out
	return nil
}

// Merge returns a copy of m with extra applied on top.
func (m Metadata) Merge(extra Metadata) Metadata {
	out := make(Metadata, len(m)+len(extra))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (m Metadata) String(key string) string {
	v, _ := m[key].(string)
	return v
}

type Transaction struct {
	ID           string            `db:"id" json:"id"`
	OwnerID      string            `db:"owner_id" json:"owner_id"`
	Type         TransactionType   `db:"type" json:"type"`
	Amount       int64             `db:"amount" json:"amount"`
	Reference    string            `db:"reference" json:"reference"`
	Status       TransactionStatus `db:"status" json:"status"`
	BalanceAfter *int64            `db:"balance_after" json:"balance_after,omitempty"`
	Metadata     Metadata          `db:"metadata" json:"metadata"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	FinalizedAt  *time.Time        `db:"finalized_at" json:"finalized_at,omitempty"`
}

type Milestone struct {
	Name                 string          `json:"name"`
	Amount               int64           `json:"amount"`
	Status               MilestoneStatus `json:"status"`
	Recipient            Recipient       `json:"recipient,omitempty"`
	FundedAt             *time.Time      `json:"funded_at,omitempty"`
	ReleasedAt           *time.Time      `json:"released_at,omitempty"`
	FundingTransactionID string          `json:"funding_transaction_id,omitempty"`
	ReleaseTransactionID string          `json:"release_transaction_id,omitempty"`
}

// Milestones is the ordered payment schedule of an escrow, persisted as JSONB.
type Milestones []Milestone

func (m Milestones) Value() (driver.Value, error) {
	if m == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (m *Milestones) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Milestones{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("milestones: unsupported type %T", src)
	}
	var out Milestones
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("milestones: %w", err)
	}
	*m = out
	return nil
}

// Total sums the milestone amounts.
func (m Milestones) Total() int64 {
	var sum int64
	for _, ms := range m {
		sum += ms.Amount
	}
	return sum
}

// FundedTotal sums the amounts of milestones currently held in escrow.
func (m Milestones) FundedTotal() int64 {
	var sum int64
	for _, ms := range m {
		if ms.Status == MilestoneFunded {
			sum += ms.Amount
		}
	}
	return sum
}

func (m Milestones) AllReleased() bool {
	if len(m) == 0 {
		return false
	}
	for _, ms := range m {
		if ms.Status != MilestoneReleased {
			return false
		}
	}
	return true
}

type Escrow struct {
	ID                      string          `db:"id" json:"id"`
	BuyerID                 string          `db:"buyer_id" json:"buyer_id"`
	SellerID                string          `db:"seller_id" json:"seller_id"`
	RealtorID               *string         `db:"realtor_id" json:"realtor_id,omitempty"`
	PaymentPlanID           string          `db:"payment_plan_id" json:"payment_plan_id"`
	PropertyID              string          `db:"property_id" json:"property_id"`
	TotalAmount             int64           `db:"total_amount" json:"total_amount"`
	AmountHeld              int64           `db:"amount_held" json:"amount_held"`
	AmountReleasedToSeller  int64           `db:"amount_released_to_seller" json:"amount_released_to_seller"`
	AmountReleasedToRealtor int64           `db:"amount_released_to_realtor" json:"amount_released_to_realtor"`
	AmountRefundedToBuyer   int64           `db:"amount_refunded_to_buyer" json:"amount_refunded_to_buyer"`
	CommissionPercentage    decimal.Decimal `db:"commission_percentage" json:"commission_percentage"`
	Milestones              Milestones      `db:"milestones" json:"milestones"`
	Status                  EscrowStatus    `db:"status" json:"status"`
	DisputeReason           *string         `db:"dispute_reason" json:"dispute_reason,omitempty"`
	CancellationReason      *string         `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt               time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time       `db:"updated_at" json:"updated_at"`
}

func (e Escrow) HasRealtor() bool {
	return e.RealtorID != nil && *e.RealtorID != ""
}

type Commission struct {
	ID              string    `db:"id" json:"id"`
	RealtorID       string    `db:"realtor_id" json:"realtor_id"`
	EscrowID        string    `db:"escrow_id" json:"escrow_id"`
	PropertyID      string    `db:"property_id" json:"property_id"`
	BuyerID         string    `db:"buyer_id" json:"buyer_id"`
	TotalCommission int64     `db:"total_commission" json:"total_commission"`
	PaidCommission  int64     `db:"paid_commission" json:"paid_commission"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Outstanding is the still-unpaid part of the commission.
func (c Commission) Outstanding() int64 {
	if c.PaidCommission >= c.TotalCommission {
		return 0
	}
	return c.TotalCommission - c.PaidCommission
}

func (c Commission) Status() CommissionStatus {
	return DeriveCommissionStatus(c.TotalCommission, c.PaidCommission)
}

// DeriveCommissionStatus computes the commission status from its amounts.
func DeriveCommissionStatus(total, paid int64) CommissionStatus {
	switch {
	case total <= 0:
		return CommissionCancelled
	case paid >= total:
		return CommissionPaid
	case paid > 0:
		return CommissionPartial
	default:
		return CommissionPending
	}
}

type WithdrawalRequest struct {
	ID              string           `db:"id" json:"id"`
	RealtorID       string           `db:"realtor_id" json:"realtor_id"`
	Amount          int64            `db:"amount" json:"amount"`
	Status          WithdrawalStatus `db:"status" json:"status"`
	ApprovedBy      *string          `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time       `db:"approved_at" json:"approved_at,omitempty"`
	RejectionReason *string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
	TransactionID   *string          `db:"transaction_id" json:"transaction_id,omitempty"`
	PayoutReference *string          `db:"payout_reference" json:"payout_reference,omitempty"`
	ProcessedAt     *time.Time       `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
}

type CommissionPayment struct {
	ID            string    `db:"id" json:"id"`
	CommissionID  string    `db:"commission_id" json:"commission_id"`
	WithdrawalID  string    `db:"withdrawal_id" json:"withdrawal_id"`
	Amount        int64     `db:"amount" json:"amount"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

var ErrUnknownEnum = errors.New("unknown enum value")
