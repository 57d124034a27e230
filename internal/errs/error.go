package errs

import (
	"errors"
)

// Kind is the machine-distinguishable error class carried in every
// failure response next to the human-readable message.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindPolicyViolation    Kind = "policy_violation"
	KindInvariantViolation Kind = "invariant_violation"
	KindValidation         Kind = "validation_error"
	KindInternal           Kind = "internal"
)

var (
	ErrNotFound = errors.New("not found")

	// state-incompatible requests
	ErrLoanClosed           = errors.New("loan is not open")
	ErrDuplicateLoan        = errors.New("open loan for this book already exists")
	ErrDuplicateFine        = errors.New("fine for this loan already exists")
	ErrFinePaid             = errors.New("fine already paid")
	ErrFineWaived           = errors.New("fine already waived")
	ErrDuplicateReservation = errors.New("active reservation for this book already exists")
	ErrReservationClosed    = errors.New("reservation is not active")
	ErrUsernameTaken        = errors.New("username already taken")

	// business-rule gates
	ErrBorrowerInactive = errors.New("borrower is not active")
	ErrLimitExceeded    = errors.New("limit exceeded")
	ErrOutstandingFine  = errors.New("borrower has outstanding fines")
	ErrBookUnavailable  = errors.New("no available copies")
	ErrBookAvailable    = errors.New("book has available copies, borrow it instead")
	ErrAlreadyHolding   = errors.New("borrower already holds this book on loan")
	ErrNotYetAvailable  = errors.New("no copy available to fulfill the reservation")

	// internal consistency failures, a caller bug somewhere upstream
	ErrInconsistent = errors.New("copy ledger inconsistency")

	// malformed input
	ErrInvalidRange  = errors.New("invalid copy counts")
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidAmount = errors.New("amount must not be negative")
	ErrLoanRequired  = errors.New("overdue fine requires a loan reference")

	ErrInvalidCredentials = errors.New("invalid username or password")

	ErrForbidden = errors.New("operation not permitted for this actor")
)

// KindOf classifies an error chain into the response taxonomy.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrLoanClosed),
		errors.Is(err, ErrDuplicateLoan),
		errors.Is(err, ErrDuplicateFine),
		errors.Is(err, ErrFinePaid),
		errors.Is(err, ErrFineWaived),
		errors.Is(err, ErrDuplicateReservation),
		errors.Is(err, ErrReservationClosed),
		errors.Is(err, ErrUsernameTaken):
		return KindConflict
	case errors.Is(err, ErrBorrowerInactive),
		errors.Is(err, ErrLimitExceeded),
		errors.Is(err, ErrOutstandingFine),
		errors.Is(err, ErrBookUnavailable),
		errors.Is(err, ErrBookAvailable),
		errors.Is(err, ErrAlreadyHolding),
		errors.Is(err, ErrNotYetAvailable),
		errors.Is(err, ErrForbidden):
		return KindPolicyViolation
	case errors.Is(err, ErrInconsistent):
		return KindInvariantViolation
	case errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrLoanRequired),
		errors.Is(err, ErrInvalidCredentials):
		return KindValidation
	default:
		return KindInternal
	}
}

type ErrorResponse struct {
	Message string `json:"message"`
	Code    Kind   `json:"code"`
}
