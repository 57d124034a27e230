package repository

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openshelf/library-service/internal/model"
)

type Users interface {
	CreateUser(ctx context.Context, user model.User) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	ListUsers(ctx context.Context, page, size int) (model.ListUsers, error)
	SetUserActive(ctx context.Context, username string, active bool) error
}

type Books interface {
	CreateBook(ctx context.Context, book model.Book) (model.Book, error)
	GetBook(ctx context.Context, bookUid string) (model.Book, error)
	UpdateBook(ctx context.Context, bookUid string, req model.UpdateBookRequest) (model.Book, error)
	DeleteBook(ctx context.Context, bookUid string) error
	ListBooks(ctx context.Context, f model.BookFilter) (model.ListBooks, error)

	// LockBook serializes every multi-step sequence touching the same
	// book. Only meaningful inside WithinTx.
	LockBook(ctx context.Context, bookID int) error
	ReserveCopy(ctx context.Context, bookID int) error
	ReleaseCopy(ctx context.Context, bookID int) error
	// RetireCopy removes a lost copy from the owned pool without
	// touching the available count.
	RetireCopy(ctx context.Context, bookID int) error
	AdjustCopies(ctx context.Context, bookID, total, available int) error
}

type Loans interface {
	CreateLoan(ctx context.Context, loan model.Loan) (model.Loan, error)
	GetLoan(ctx context.Context, loanUid string) (model.Loan, error)
	GetLoanForUpdate(ctx context.Context, loanUid string) (model.Loan, error)
	CountOpenLoans(ctx context.Context, userID int) (int, error)
	HasOpenLoan(ctx context.Context, userID, bookID int) (bool, error)
	CloseLoan(ctx context.Context, loanID int, status model.LoanStatus, returnDate time.Time, fineAmount decimal.Decimal, returnedBy int, notes string) error
	ExtendLoan(ctx context.Context, loanID int, newDue time.Time, note string) error
	ListLoans(ctx context.Context, f model.LoanFilter) (model.ListLoans, error)
	ListDueBetween(ctx context.Context, from, to time.Time) ([]model.Loan, error)
}

type Fines interface {
	CreateFine(ctx context.Context, fine model.Fine) (model.Fine, error)
	GetFine(ctx context.Context, fineUid string) (model.Fine, error)
	SettleFine(ctx context.Context, fineID int, status model.PaymentStatus, method *string, processedBy int, note string, when time.Time) error
	OutstandingTotal(ctx context.Context, userID int) (decimal.Decimal, error)
	ListFines(ctx context.Context, f model.FineFilter) (model.ListFines, error)
}

type Reservations interface {
	CreateReservation(ctx context.Context, r model.Reservation) (model.Reservation, error)
	GetReservation(ctx context.Context, reservationUid string) (model.Reservation, error)
	CountActiveReservations(ctx context.Context, userID int) (int, error)
	CountActiveForBook(ctx context.Context, bookID int) (int, error)
	CloseReservation(ctx context.Context, id int, to model.ReservationStatus, fulfilledBy *int, when time.Time) error
	RerankBook(ctx context.Context, bookID int) error
	ExpireDue(ctx context.Context, now time.Time) ([]model.Reservation, error)
	NextActiveForBook(ctx context.Context, bookID int) (model.Reservation, error)
	ListReservations(ctx context.Context, f model.ReservationFilter) (model.ListReservations, error)
}

type Repository interface {
	// WithinTx runs fn inside a single database transaction. Nested
	// calls join the transaction already carried by ctx.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	Users
	Books
	Loans
	Fines
	Reservations
}

type repository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewRepository(db *sqlx.DB, log *zap.Logger) (*repository, error) {
	return &repository{
		db:  db,
		log: log.Named("repo"),
	}, nil
}

const (
	usersTableName        = `users`
	booksTableName        = `books`
	loansTableName        = `loans`
	finesTableName        = `fines`
	reservationsTableName = `reservations`
)

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type txKey struct{}

func (r *repository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.log.Error("tx rollback", zap.Error(rbErr))
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func (r *repository) ext(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return r.db
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
