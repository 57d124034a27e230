package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type FineReason string

const (
	FineOverdue FineReason = "overdue"
	FineDamage  FineReason = "damage"
	FineLost    FineReason = "lost"
	FineOther   FineReason = "other"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentWaived  PaymentStatus = "waived"
)

type Fine struct {
	ID            int             `json:"-" db:"id"`
	FineUid       string          `json:"fineUid" db:"fine_uid"`
	UserID        int             `json:"-" db:"user_id"`
	Username      string          `json:"username" db:"username"`
	LoanID        *int            `json:"-" db:"loan_id"`
	LoanUid       *string         `json:"loanUid,omitempty" db:"loan_uid"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Reason        FineReason      `json:"reason" db:"reason"`
	PaymentStatus PaymentStatus   `json:"paymentStatus" db:"payment_status"`
	PaymentDate   *time.Time      `json:"paymentDate,omitempty" db:"payment_date"`
	PaymentMethod *string         `json:"paymentMethod,omitempty" db:"payment_method"`
	ProcessedBy   *int            `json:"-" db:"processed_by"`
	Notes         string          `json:"notes,omitempty" db:"notes"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

type AssessFineRequest struct {
	Username string          `json:"username" validate:"required"`
	LoanUid  string          `json:"loanUid"`
	Amount   decimal.Decimal `json:"amount" validate:"required"`
	Reason   FineReason      `json:"reason" validate:"required,oneof=overdue damage lost other"`
	Notes    string          `json:"notes"`
}

type PayFineRequest struct {
	Method string `json:"method" validate:"required,oneof=cash card transfer"`
}

type WaiveFineRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type FineFilter struct {
	Username string
	Status   PaymentStatus
	Page     int
	Size     int
}

type ListFines struct {
	Paging
	Items []Fine `json:"items"`
}
