package models

import "fmt"

type TransactionType string

const (
	TxWalletDeposit        TransactionType = "WALLET_DEPOSIT"
	TxWalletWithdrawal     TransactionType = "WALLET_WITHDRAWAL"
	TxEscrowDeposit        TransactionType = "ESCROW_DEPOSIT"
	TxEscrowReleaseSeller  TransactionType = "ESCROW_RELEASE_SELLER"
	TxEscrowReleaseRealtor TransactionType = "ESCROW_RELEASE_REALTOR"
	TxEscrowRefund         TransactionType = "ESCROW_REFUND"
	TxCommissionPayment    TransactionType = "COMMISSION_PAYMENT"
)

// WalletEffect says when, if ever, a transaction type moves wallet money.
type WalletEffect int

const (
	EffectNone WalletEffect = iota
	EffectCreditOnSuccess
	EffectDebitOnCreate
)

func (t TransactionType) Effect() WalletEffect {
	switch t {
	case TxWalletDeposit, TxEscrowReleaseSeller, TxEscrowReleaseRealtor, TxEscrowRefund:
		return EffectCreditOnSuccess
	case TxWalletWithdrawal, TxEscrowDeposit:
		return EffectDebitOnCreate
	case TxCommissionPayment:
		return EffectNone
	default:
		panic(fmt.Sprintf("unhandled transaction type %q", string(t)))
	}
}

func (t TransactionType) ReferencePrefix() string {
	switch t {
	case TxWalletDeposit:
		return "DEP"
	case TxWalletWithdrawal:
		return "WDR"
	case TxEscrowDeposit:
		return "ESD"
	case TxEscrowReleaseSeller:
		return "ERS"
	case TxEscrowReleaseRealtor:
		return "ERR"
	case TxEscrowRefund:
		return "ERF"
	case TxCommissionPayment:
		return "COM"
	default:
		panic(fmt.Sprintf("unhandled transaction type %q", string(t)))
	}
}

// GatewayBacked reports whether the outcome is decided by the payment gateway.
func (t TransactionType) GatewayBacked() bool {
	return t == TxWalletDeposit || t == TxWalletWithdrawal
}

func (t TransactionType) Valid() bool {
	switch t {
	case TxWalletDeposit, TxWalletWithdrawal, TxEscrowDeposit, TxEscrowReleaseSeller,
		TxEscrowReleaseRealtor, TxEscrowRefund, TxCommissionPayment:
		return true
	}
	return false
}

func ParseTransactionType(raw string) (TransactionType, error) {
	t := TransactionType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("%w: transaction type %q", ErrUnknownEnum, raw)
	}
	return t, nil
}

type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxSuccess   TransactionStatus = "SUCCESS"
	TxFailed    TransactionStatus = "FAILED"
	TxCancelled TransactionStatus = "CANCELLED"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TxPending, TxSuccess, TxFailed, TxCancelled:
		return true
	}
	return false
}

func (s TransactionStatus) Terminal() bool {
	switch s {
	case TxSuccess, TxFailed, TxCancelled:
		return true
	case TxPending:
		return false
	default:
		panic(fmt.Sprintf("unhandled transaction status %q", string(s)))
	}
}

func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	s := TransactionStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: transaction status %q", ErrUnknownEnum, raw)
	}
	return s, nil
}

type EscrowStatus string

const (
	EscrowCreated   EscrowStatus = "CREATED"
	EscrowActive    EscrowStatus = "ACTIVE"
	EscrowCompleted EscrowStatus = "COMPLETED"
	EscrowCancelled EscrowStatus = "CANCELLED"
	EscrowDisputed  EscrowStatus = "DISPUTED"
)

func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowCreated, EscrowActive, EscrowCompleted, EscrowCancelled, EscrowDisputed:
		return true
	}
	return false
}

// CanTransition reports whether the escrow state machine allows s -> next.
func (s EscrowStatus) CanTransition(next EscrowStatus) bool {
	switch s {
	case EscrowCreated:
		return next == EscrowActive || next == EscrowCancelled
	case EscrowActive:
		return next == EscrowCompleted || next == EscrowCancelled || next == EscrowDisputed
	case EscrowDisputed:
		return next == EscrowActive || next == EscrowCancelled
	case EscrowCompleted, EscrowCancelled:
		return false
	default:
		panic(fmt.Sprintf("unhandled escrow status %q", string(s)))
	}
}

func ParseEscrowStatus(raw string) (EscrowStatus, error) {
	s := EscrowStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: escrow status %q", ErrUnknownEnum, raw)
	}
	return s, nil
}

type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "PENDING"
	MilestoneFunded    MilestoneStatus = "FUNDED"
	MilestoneReleased  MilestoneStatus = "RELEASED"
	MilestoneCancelled MilestoneStatus = "CANCELLED"
)

func (s MilestoneStatus) CanTransition(next MilestoneStatus) bool {
	switch s {
	case MilestonePending:
		return next == MilestoneFunded || next == MilestoneCancelled
	case MilestoneFunded:
		return next == MilestoneReleased || next == MilestoneCancelled
	case MilestoneReleased, MilestoneCancelled:
		return false
	default:
		panic(fmt.Sprintf("unhandled milestone status %q", string(s)))
	}
}

type Recipient string

const (
	RecipientSeller  Recipient = "SELLER"
	RecipientRealtor Recipient = "REALTOR"
)

func ParseRecipient(raw string) (Recipient, error) {
	switch r := Recipient(raw); r {
	case RecipientSeller, RecipientRealtor:
		return r, nil
	}
	return "", fmt.Errorf("%w: recipient %q", ErrUnknownEnum, raw)
}

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "PENDING"
	CommissionPartial   CommissionStatus = "PARTIAL"
	CommissionPaid      CommissionStatus = "PAID"
	CommissionCancelled CommissionStatus = "CANCELLED"
)

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalApproved  WithdrawalStatus = "APPROVED"
	WithdrawalRejected  WithdrawalStatus = "REJECTED"
	WithdrawalProcessed WithdrawalStatus = "PROCESSED"
)

func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalPending, WithdrawalApproved, WithdrawalRejected, WithdrawalProcessed:
		return true
	}
	return false
}

func ParseWithdrawalStatus(raw string) (WithdrawalStatus, error) {
	s := WithdrawalStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: withdrawal status %q", ErrUnknownEnum, raw)
	}
	return s, nil
}

type WithdrawalAction string

const (
	ActionApprove WithdrawalAction = "APPROVE"
	ActionReject  WithdrawalAction = "REJECT"
)

func ParseWithdrawalAction(raw string) (WithdrawalAction, error) {
	switch a := WithdrawalAction(raw); a {
	case ActionApprove, ActionReject:
		return a, nil
	}
	return "", fmt.Errorf("%w: withdrawal action %q", ErrUnknownEnum, raw)
}
