package borrowing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/model"
	"github.com/openshelf/library-service/internal/repository"
	"github.com/openshelf/library-service/internal/service/borrowing"
	"github.com/openshelf/library-service/internal/service/circulation"
	"github.com/openshelf/library-service/internal/service/fines"
	"github.com/openshelf/library-service/internal/service/inventory"
	"github.com/openshelf/library-service/internal/service/notifier"
	"github.com/openshelf/library-service/internal/service/reservations"
	"github.com/openshelf/library-service/pkg/auth"
)

type env struct {
	repo *repository.Memory
	svc  *borrowing.Service

	staff    model.User
	borrower model.User

	staffProfile    auth.Profile
	borrowerProfile auth.Profile
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zap.NewNop()
	repo := repository.NewMemory()
	policy := model.DefaultPolicy()

	inventorySvc := inventory.NewService(repo, log)
	circulationSvc := circulation.NewService(repo, policy, log)
	finesSvc := fines.NewService(repo, log)
	reservationSvc := reservations.NewService(repo, policy, log)
	notifierSvc := notifier.NewService(nil, log)
	svc := borrowing.NewService(repo, policy, inventorySvc, circulationSvc, finesSvc, reservationSvc, notifierSvc, log)

	ctx := context.Background()
	staff, err := repo.CreateUser(ctx, model.User{Username: "librarian", Role: auth.RoleLibrarian})
	require.NoError(t, err)
	borrower, err := repo.CreateUser(ctx, model.User{Username: "alice", Role: auth.RoleBorrower})
	require.NoError(t, err)

	return &env{
		repo:            repo,
		svc:             svc,
		staff:           staff,
		borrower:        borrower,
		staffProfile:    auth.Profile{Username: staff.Username, Role: staff.Role},
		borrowerProfile: auth.Profile{Username: borrower.Username, Role: borrower.Role},
	}
}

func (e *env) addBook(t *testing.T, title string, copies int) model.Book {
	t.Helper()
	book, err := e.repo.CreateBook(context.Background(), model.Book{Title: title, Author: "anon", TotalCopies: copies})
	require.NoError(t, err)
	return book
}

// openOverdueLoan plants an already-late loan the way the database
// would hold it: copy checked out, due date in the past.
func (e *env) openOverdueLoan(t *testing.T, book model.Book, lateBy time.Duration) model.Loan {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.repo.ReserveCopy(ctx, book.ID))
	loan, err := e.repo.CreateLoan(ctx, model.Loan{
		UserID:    e.borrower.ID,
		BookID:    book.ID,
		IssueDate: time.Now().Add(-lateBy - 14*24*time.Hour),
		DueDate:   time.Now().Add(-lateBy),
		IssuedBy:  e.staff.ID,
	})
	require.NoError(t, err)
	return loan
}

func TestBorrow(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	book := e.addBook(t, "The Go Programming Language", 2)

	loan, err := e.svc.Borrow(ctx, e.borrowerProfile, model.IssueLoanRequest{BookUid: book.BookUid})
	require.NoError(t, err)
	require.Equal(t, model.LoanIssued, loan.Status)
	require.Equal(t, e.borrower.Username, loan.Username)
	require.WithinDuration(t, time.Now().AddDate(0, 0, 14), loan.DueDate, time.Minute)

	got, err := e.repo.GetBook(ctx, book.BookUid)
	require.NoError(t, err)
	require.Equal(t, 1, got.AvailableCopies)
	require.Equal(t, 2, got.TotalCopies)
}

func TestBorrow_Gates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(t *testing.T, e *env) model.Book
		wantErr error
	}{
		{
			name: "no available copies",
			setup: func(t *testing.T, e *env) model.Book {
				return e.addBook(t, "scarce", 0)
			},
			wantErr: errs.ErrBookUnavailable,
		},
		{
			name: "inactive borrower",
			setup: func(t *testing.T, e *env) model.Book {
				require.NoError(t, e.repo.SetUserActive(context.Background(), e.borrower.Username, false))
				return e.addBook(t, "any", 1)
			},
			wantErr: errs.ErrBorrowerInactive,
		},
		{
			name: "already holding the book",
			setup: func(t *testing.T, e *env) model.Book {
				book := e.addBook(t, "held", 2)
				_, err := e.svc.Borrow(context.Background(), e.borrowerProfile, model.IssueLoanRequest{BookUid: book.BookUid})
				require.NoError(t, err)
				return book
			},
			wantErr: errs.ErrDuplicateLoan,
		},
		{
			name: "outstanding fine",
			setup: func(t *testing.T, e *env) model.Book {
				_, err := e.repo.CreateFine(context.Background(), model.Fine{
					UserID: e.borrower.ID,
					Amount: decimal.NewFromInt(3),
					Reason: model.FineDamage,
				})
				require.NoError(t, err)
				return e.addBook(t, "gated", 1)
			},
			wantErr: errs.ErrOutstandingFine,
		},
		{
			name: "borrow limit reached",
			setup: func(t *testing.T, e *env) model.Book {
				for i := 0; i < model.DefaultPolicy().BorrowLimit(auth.RoleBorrower); i++ {
					book := e.addBook(t, "filler", 1)
					_, err := e.svc.Borrow(context.Background(), e.borrowerProfile, model.IssueLoanRequest{BookUid: book.BookUid})
					require.NoError(t, err)
				}
				return e.addBook(t, "one too many", 1)
			},
			wantErr: errs.ErrLimitExceeded,
		},
		{
			name: "due date in the past",
			setup: func(t *testing.T, e *env) model.Book {
				return e.addBook(t, "timely", 1)
			},
			wantErr: errs.ErrInvalidDate,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			book := tt.setup(t, e)
			before, err := e.repo.GetBook(context.Background(), book.BookUid)
			require.NoError(t, err)

			req := model.IssueLoanRequest{BookUid: book.BookUid}
			if tt.wantErr == errs.ErrInvalidDate {
				req.DueDate = &model.Date{Time: time.Now().Add(-time.Hour)}
			}
			_, err = e.svc.Borrow(context.Background(), e.borrowerProfile, req)
			require.ErrorIs(t, err, tt.wantErr)

			// a refused borrow must leave the ledger untouched
			after, err := e.repo.GetBook(context.Background(), book.BookUid)
			require.NoError(t, err)
			require.Equal(t, before.AvailableCopies, after.AvailableCopies)
			require.Equal(t, before.TotalCopies, after.TotalCopies)
		})
	}
}

func TestBorrow_OnBehalf(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	book := e.addBook(t, "delegated", 1)

	// staff issues for the borrower
	loan, err := e.svc.Borrow(ctx, e.staffProfile, model.IssueLoanRequest{BookUid: book.BookUid, Username: e.borrower.Username})
	require.NoError(t, err)
	require.Equal(t, e.borrower.Username, loan.Username)

	// a borrower may not issue for someone else
	other, err := e.repo.CreateUser(ctx, model.User{Username: "bob", Role: auth.RoleBorrower})
	require.NoError(t, err)
	_, err = e.svc.Borrow(ctx, e.borrowerProfile, model.IssueLoanRequest{BookUid: book.BookUid, Username: other.Username})
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestReturn_OnTime(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	book := e.addBook(t, "round trip", 1)

	loan, err := e.svc.Borrow(ctx, e.borrowerProfile, model.IssueLoanRequest{BookUid: book.BookUid})
	require.NoError(t, err)

	resp, err := e.svc.Return(ctx, e.borrowerProfile, loan.LoanUid, model.ReturnLoanRequest{})
	require.NoError(t, err)
	require.True(t, resp.FineAmount.IsZero())
	require.Equal(t, model.LoanReturned, resp.Loan.Status)
	require.NotNil(t, resp.Loan.ReturnDate)

	got, err := e.repo.GetBook(ctx, book.BookUid)
	require.NoError(t, err)
	require.Equal(t, 1, got.AvailableCopies)

	// the same loan cannot be returned twice
	_, err = e.svc.Return(ctx, e.borrowerProfile, loan.LoanUid, model.ReturnLoanRequest{})
	require.ErrorIs(t, err, errs.ErrLoanClosed)
}

func TestReturn_Overdue(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	book := e.addBook(t, "late", 1)

	// 36 hours late rounds up to two chargeable days
	loan := e.openOverdueLoan(t, book, 36*time.Hour)

	resp, err := e.svc.Return(ctx, e.borrowerProfile, loan.LoanUid, model.ReturnLoanRequest{})
	require.NoError(t, err)
	require.True(t, resp.FineAmount.Equal(decimal.NewFromInt(2)), "got %s", resp.FineAmount)

	outstanding, err := e.repo.OutstandingTotal(ctx, e.borrower.ID)
	require.NoError(t, err)
	require.True(t, outstanding.Equal(decimal.NewFromInt(2)))

	// the unpaid fine now blocks further borrowing
	next := e.addBook(t, "blocked", 1)
	_, err = e.svc.Borrow(ctx, e.borrowerProfile, model.IssueLoanRequest{BookUid: next.BookUid})
	require.ErrorIs(t, err, errs.ErrOutstandingFine)
}

func TestReturn_Forbidden(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	book := e.addBook(t, "private", 1)

	loan, err := e.svc.Borrow(ctx, e.borrowerProfile, model.IssueLoanRequest{BookUid: book.BookUid})
	require.NoError(t, err)

	other, err := e.repo.CreateUser(ctx, model.User{Username: "mallory", Role: auth.RoleBorrower})
	require.NoError(t, err)
	_, err = e.svc.Return(ctx, auth.Profile{Username: other.Username, Role: other.Role}, loan.LoanUid, model.ReturnLoanRequest{})
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestReportLost(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	book := e.addBook(t, "gone", 2)

	loan, err := e.svc.Borrow(ctx, e.borrowerProfile, model.IssueLoanRequest{BookUid: book.BookUid})
	require.NoError(t, err)

	got, err := e.svc.ReportLost(ctx, e.staffProfile, loan.LoanUid, model.ReportLostRequest{
		Amount: decimal.NewFromInt(25),
		Notes:  "left on a train",
	})
	require.NoError(t, err)
	require.Equal(t, model.LoanLost, got.Status)

	// the copy leaves the owned pool and stays unavailable
	b, err := e.repo.GetBook(ctx, book.BookUid)
	require.NoError(t, err)
	require.Equal(t, 1, b.TotalCopies)
	require.Equal(t, 1, b.AvailableCopies)

	outstanding, err := e.repo.OutstandingTotal(ctx, e.borrower.ID)
	require.NoError(t, err)
	require.True(t, outstanding.Equal(decimal.NewFromInt(25)))
}

func TestBorrow_LastCopyRace(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	book := e.addBook(t, "last copy", 1)

	bob, err := e.repo.CreateUser(ctx, model.User{Username: "bob", Role: auth.RoleBorrower})
	require.NoError(t, err)

	profiles := []auth.Profile{
		e.borrowerProfile,
		{Username: bob.Username, Role: bob.Role},
	}
	errCh := make(chan error, len(profiles))
	var wg sync.WaitGroup
	for _, p := range profiles {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Borrow(ctx, p, model.IssueLoanRequest{BookUid: book.BookUid})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	var ok, unavailable int
	for err := range errCh {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, errs.ErrBookUnavailable)
			unavailable++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, unavailable)

	got, err := e.repo.GetBook(ctx, book.BookUid)
	require.NoError(t, err)
	require.Equal(t, 0, got.AvailableCopies)
}
