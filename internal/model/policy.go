package model

import (
	"github.com/shopspring/decimal"

	"github.com/openshelf/library-service/pkg/auth"
)

// Policy holds the lending rules. The daily fine rate is a single
// global constant by default, overridable through config.
type Policy struct {
	DailyFineRate  decimal.Decimal
	LoanPeriodDays int
	ReminderDays   int
	BorrowLimits   map[string]int
	ReserveLimits  map[string]int
}

func DefaultPolicy() Policy {
	return Policy{
		DailyFineRate:  decimal.NewFromInt(1),
		LoanPeriodDays: 14,
		ReminderDays:   2,
		BorrowLimits: map[string]int{
			auth.RoleBorrower:  5,
			auth.RoleLibrarian: 10,
			auth.RoleAdmin:     10,
		},
		ReserveLimits: map[string]int{
			auth.RoleBorrower:  3,
			auth.RoleLibrarian: 5,
			auth.RoleAdmin:     5,
		},
	}
}

func (p Policy) BorrowLimit(role string) int {
	if n, ok := p.BorrowLimits[role]; ok {
		return n
	}
	return p.BorrowLimits[auth.RoleBorrower]
}

func (p Policy) ReserveLimit(role string) int {
	if n, ok := p.ReserveLimits[role]; ok {
		return n
	}
	return p.ReserveLimits[auth.RoleBorrower]
}
