package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanIssued   LoanStatus = "issued"
	LoanReturned LoanStatus = "returned"
	LoanLost     LoanStatus = "lost"
)

type Loan struct {
	ID         int             `json:"-" db:"id"`
	LoanUid    string          `json:"loanUid" db:"loan_uid"`
	UserID     int             `json:"-" db:"user_id"`
	Username   string          `json:"username" db:"username"`
	BookID     int             `json:"-" db:"book_id"`
	BookUid    string          `json:"bookUid" db:"book_uid"`
	BookTitle  string          `json:"bookTitle" db:"book_title"`
	IssueDate  time.Time       `json:"issueDate" db:"issue_date"`
	DueDate    time.Time       `json:"dueDate" db:"due_date"`
	ReturnDate *time.Time      `json:"returnDate,omitempty" db:"return_date"`
	FineAmount decimal.Decimal `json:"fineAmount" db:"fine_amount"`
	Status     LoanStatus      `json:"status" db:"status"`
	IssuedBy   int             `json:"-" db:"issued_by"`
	ReturnedBy *int            `json:"-" db:"returned_by"`
	Notes      string          `json:"notes,omitempty" db:"notes"`
}

// Overdue is the query-time predicate: a loan is overdue while it is
// still open past its due date. Overdue-ness is never stored.
func (l Loan) Overdue(now time.Time) bool {
	return l.Status == LoanIssued && now.After(l.DueDate)
}

// OverdueDays counts started days of lateness at the given instant.
func (l Loan) OverdueDays(now time.Time) int {
	if !now.After(l.DueDate) {
		return 0
	}
	late := now.Sub(l.DueDate)
	days := int(late / (24 * time.Hour))
	if late%(24*time.Hour) > 0 {
		days++
	}
	return days
}

type IssueLoanRequest struct {
	BookUid string `json:"bookUid" validate:"required"`
	DueDate *Date  `json:"dueDate"`
	// Username lets staff issue on behalf of a borrower; defaults to the caller.
	Username string `json:"username"`
}

type ReturnLoanRequest struct {
	Notes string `json:"notes"`
}

type ReturnLoanResponse struct {
	Loan       Loan            `json:"loan"`
	FineAmount decimal.Decimal `json:"fineAmount"`
}

type ExtendLoanRequest struct {
	NewDueDate Date   `json:"newDueDate" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
}

type ReportLostRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes"`
}

type LoanFilter struct {
	Username    string
	OverdueOnly bool
	Page        int
	Size        int
}

type ListLoans struct {
	Paging
	Items []Loan `json:"items"`
}
