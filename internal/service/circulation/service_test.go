package circulation_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/model"
	"github.com/openshelf/library-service/internal/repository"
	"github.com/openshelf/library-service/internal/service/circulation"
	"github.com/openshelf/library-service/pkg/auth"
)

func TestFineFor(t *testing.T) {
	t.Parallel()
	svc := circulation.NewService(repository.NewMemory(), model.DefaultPolicy(), zap.NewNop())
	due := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	loan := model.Loan{Status: model.LoanIssued, DueDate: due}

	tests := []struct {
		name       string
		returnedAt time.Time
		want       int64
	}{
		{name: "early", returnedAt: due.Add(-time.Hour), want: 0},
		{name: "on the due instant", returnedAt: due, want: 0},
		{name: "a second late counts as a day", returnedAt: due.Add(time.Second), want: 1},
		{name: "exactly one day late", returnedAt: due.Add(24 * time.Hour), want: 1},
		{name: "a day and a bit rounds up", returnedAt: due.Add(25 * time.Hour), want: 2},
		{name: "a week late", returnedAt: due.Add(7 * 24 * time.Hour), want: 7},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := svc.FineFor(loan, tt.returnedAt)
			require.True(t, got.Equal(decimal.NewFromInt(tt.want)), "got %s want %d", got, tt.want)
		})
	}
}

func TestOverduePredicate(t *testing.T) {
	t.Parallel()
	now := time.Now()

	open := model.Loan{Status: model.LoanIssued, DueDate: now.Add(-time.Hour)}
	require.True(t, open.Overdue(now))

	// a closed loan is never overdue, however late it once was
	closed := model.Loan{Status: model.LoanReturned, DueDate: now.Add(-time.Hour)}
	require.False(t, closed.Overdue(now))

	future := model.Loan{Status: model.LoanIssued, DueDate: now.Add(time.Hour)}
	require.False(t, future.Overdue(now))
}

func TestExtend(t *testing.T) {
	t.Parallel()
	repo := repository.NewMemory()
	svc := circulation.NewService(repo, model.DefaultPolicy(), zap.NewNop())
	ctx := context.Background()

	staff, err := repo.CreateUser(ctx, model.User{Username: "librarian", Role: auth.RoleLibrarian})
	require.NoError(t, err)
	alice, err := repo.CreateUser(ctx, model.User{Username: "alice", Role: auth.RoleBorrower})
	require.NoError(t, err)
	book, err := repo.CreateBook(ctx, model.Book{Title: "renewable", Author: "anon", TotalCopies: 1})
	require.NoError(t, err)

	due := time.Now().Add(48 * time.Hour)
	loan, err := repo.CreateLoan(ctx, model.Loan{UserID: alice.ID, BookID: book.ID, DueDate: due, IssuedBy: staff.ID})
	require.NoError(t, err)

	aliceProfile := auth.Profile{Username: "alice", Role: auth.RoleBorrower}

	// the new due date must move forward
	_, err = svc.Extend(ctx, aliceProfile, loan.LoanUid, model.ExtendLoanRequest{
		NewDueDate: model.Date{Time: due.Add(-time.Hour)},
		Reason:     "still reading",
	})
	require.ErrorIs(t, err, errs.ErrInvalidDate)

	got, err := svc.Extend(ctx, aliceProfile, loan.LoanUid, model.ExtendLoanRequest{
		NewDueDate: model.Date{Time: due.Add(72 * time.Hour)},
		Reason:     "still reading",
	})
	require.NoError(t, err)
	require.WithinDuration(t, due.Add(72*time.Hour), got.DueDate, time.Second)
	require.Contains(t, got.Notes, "still reading")

	// only the holder or staff may extend
	_, err = svc.Extend(ctx, auth.Profile{Username: "mallory", Role: auth.RoleBorrower}, loan.LoanUid, model.ExtendLoanRequest{
		NewDueDate: model.Date{Time: due.Add(96 * time.Hour)},
		Reason:     "not mine",
	})
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestList_ScopedToCaller(t *testing.T) {
	t.Parallel()
	repo := repository.NewMemory()
	svc := circulation.NewService(repo, model.DefaultPolicy(), zap.NewNop())
	ctx := context.Background()

	alice, err := repo.CreateUser(ctx, model.User{Username: "alice", Role: auth.RoleBorrower})
	require.NoError(t, err)
	bob, err := repo.CreateUser(ctx, model.User{Username: "bob", Role: auth.RoleBorrower})
	require.NoError(t, err)
	book, err := repo.CreateBook(ctx, model.Book{Title: "shared", Author: "anon", TotalCopies: 2})
	require.NoError(t, err)

	for _, u := range []model.User{alice, bob} {
		_, err = repo.CreateLoan(ctx, model.Loan{UserID: u.ID, BookID: book.ID, DueDate: time.Now().Add(time.Hour), IssuedBy: alice.ID})
		require.NoError(t, err)
	}

	// a borrower only ever sees their own loans, whatever the filter says
	list, err := svc.List(ctx, auth.Profile{Username: "alice", Role: auth.RoleBorrower}, model.LoanFilter{Username: "bob"})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Equal(t, "alice", list.Items[0].Username)

	list, err = svc.List(ctx, auth.Profile{Username: "admin", Role: auth.RoleAdmin}, model.LoanFilter{})
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
}
