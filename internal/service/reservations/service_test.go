package reservations_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/model"
	"github.com/openshelf/library-service/internal/repository"
	"github.com/openshelf/library-service/internal/service/reservations"
	"github.com/openshelf/library-service/pkg/auth"
)

type env struct {
	repo *repository.Memory
	svc  *reservations.Service

	staff model.User
	book  model.Book
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo := repository.NewMemory()
	svc := reservations.NewService(repo, model.DefaultPolicy(), zap.NewNop())

	ctx := context.Background()
	staff, err := repo.CreateUser(ctx, model.User{Username: "librarian", Role: auth.RoleLibrarian})
	require.NoError(t, err)
	// zero copies, so the book is reservable from the start
	book, err := repo.CreateBook(ctx, model.Book{Title: "in demand", Author: "anon", TotalCopies: 0})
	require.NoError(t, err)

	return &env{repo: repo, svc: svc, staff: staff, book: book}
}

func (e *env) addBorrower(t *testing.T, username string) model.User {
	t.Helper()
	u, err := e.repo.CreateUser(context.Background(), model.User{Username: username, Role: auth.RoleBorrower})
	require.NoError(t, err)
	return u
}

func (e *env) reserve(t *testing.T, borrower model.User) model.Reservation {
	t.Helper()
	rsv, err := e.svc.Create(context.Background(), borrower, model.CreateReservationRequest{
		BookUid:    e.book.BookUid,
		ExpiryDate: model.Date{Time: time.Now().Add(72 * time.Hour)},
	})
	require.NoError(t, err)
	return rsv
}

func TestCreate_PriorityOrder(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	first := e.reserve(t, e.addBorrower(t, "alice"))
	second := e.reserve(t, e.addBorrower(t, "bob"))
	third := e.reserve(t, e.addBorrower(t, "carol"))

	require.Equal(t, 1, first.Priority)
	require.Equal(t, 2, second.Priority)
	require.Equal(t, 3, third.Priority)
}

func TestCreate_Preconditions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("book has free copies", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		alice := e.addBorrower(t, "alice")
		book, err := e.repo.CreateBook(ctx, model.Book{Title: "plentiful", Author: "anon", TotalCopies: 3})
		require.NoError(t, err)
		_, err = e.svc.Create(ctx, alice, model.CreateReservationRequest{
			BookUid:    book.BookUid,
			ExpiryDate: model.Date{Time: time.Now().Add(time.Hour)},
		})
		require.ErrorIs(t, err, errs.ErrBookAvailable)
	})

	t.Run("borrower already holds the book", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		alice := e.addBorrower(t, "alice")
		_, err := e.repo.CreateLoan(ctx, model.Loan{
			UserID:   alice.ID,
			BookID:   e.book.ID,
			DueDate:  time.Now().Add(24 * time.Hour),
			IssuedBy: e.staff.ID,
		})
		require.NoError(t, err)
		_, err = e.svc.Create(ctx, alice, model.CreateReservationRequest{
			BookUid:    e.book.BookUid,
			ExpiryDate: model.Date{Time: time.Now().Add(time.Hour)},
		})
		require.ErrorIs(t, err, errs.ErrAlreadyHolding)
	})

	t.Run("expiry in the past", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		alice := e.addBorrower(t, "alice")
		_, err := e.svc.Create(ctx, alice, model.CreateReservationRequest{
			BookUid:    e.book.BookUid,
			ExpiryDate: model.Date{Time: time.Now().Add(-time.Hour)},
		})
		require.ErrorIs(t, err, errs.ErrInvalidDate)
	})

	t.Run("duplicate active reservation", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		alice := e.addBorrower(t, "alice")
		e.reserve(t, alice)
		_, err := e.svc.Create(ctx, alice, model.CreateReservationRequest{
			BookUid:    e.book.BookUid,
			ExpiryDate: model.Date{Time: time.Now().Add(time.Hour)},
		})
		require.ErrorIs(t, err, errs.ErrDuplicateReservation)
	})

	t.Run("reserve limit reached", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		alice := e.addBorrower(t, "alice")
		limit := model.DefaultPolicy().ReserveLimit(auth.RoleBorrower)
		for i := 0; i < limit; i++ {
			book, err := e.repo.CreateBook(ctx, model.Book{Title: "filler", Author: "anon", TotalCopies: 0})
			require.NoError(t, err)
			_, err = e.svc.Create(ctx, alice, model.CreateReservationRequest{
				BookUid:    book.BookUid,
				ExpiryDate: model.Date{Time: time.Now().Add(time.Hour)},
			})
			require.NoError(t, err)
		}
		_, err := e.svc.Create(ctx, alice, model.CreateReservationRequest{
			BookUid:    e.book.BookUid,
			ExpiryDate: model.Date{Time: time.Now().Add(time.Hour)},
		})
		require.ErrorIs(t, err, errs.ErrLimitExceeded)
	})
}

// releaseOnLock hands a copy back right as the lock is granted, the
// way a concurrent return commits while a reservation waits on the
// book row.
type releaseOnLock struct {
	*repository.Memory
	bookID int
	once   sync.Once
}

func (r *releaseOnLock) LockBook(ctx context.Context, bookID int) error {
	r.once.Do(func() {
		_ = r.Memory.ReleaseCopy(ctx, r.bookID)
	})
	return r.Memory.LockBook(ctx, bookID)
}

func TestCreate_RechecksAvailabilityUnderLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := repository.NewMemory()

	alice, err := repo.CreateUser(ctx, model.User{Username: "alice", Role: auth.RoleBorrower})
	require.NoError(t, err)
	book, err := repo.CreateBook(ctx, model.Book{Title: "in flight", Author: "anon", TotalCopies: 1})
	require.NoError(t, err)
	// the single copy is out on loan when the reservation arrives
	require.NoError(t, repo.ReserveCopy(ctx, book.ID))

	svc := reservations.NewService(&releaseOnLock{Memory: repo, bookID: book.ID}, model.DefaultPolicy(), zap.NewNop())

	_, err = svc.Create(ctx, alice, model.CreateReservationRequest{
		BookUid:    book.BookUid,
		ExpiryDate: model.Date{Time: time.Now().Add(time.Hour)},
	})
	require.ErrorIs(t, err, errs.ErrBookAvailable)

	list, err := repo.ListReservations(ctx, model.ReservationFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Empty(t, list.Items)
}

func TestQueue_ContiguousUnderConcurrentCreateCancel(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	head := e.reserve(t, e.addBorrower(t, "alice"))
	mid := e.reserve(t, e.addBorrower(t, "bob"))
	e.reserve(t, e.addBorrower(t, "carol"))

	late := make([]model.User, 4)
	for i := range late {
		late[i] = e.addBorrower(t, fmt.Sprintf("late-%d", i))
	}

	staffProfile := auth.Profile{Username: e.staff.Username, Role: e.staff.Role}
	errCh := make(chan error, len(late)+2)
	var wg sync.WaitGroup
	for _, b := range late {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Create(ctx, b, model.CreateReservationRequest{
				BookUid:    e.book.BookUid,
				ExpiryDate: model.Date{Time: time.Now().Add(time.Hour)},
			})
			errCh <- err
		}()
	}
	for _, uid := range []string{head.ReservationUid, mid.ReservationUid} {
		uid := uid
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Cancel(ctx, staffProfile, uid)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	// whatever order the interleaving settled on, the live queue is 1..n
	list, err := e.svc.List(ctx, staffProfile, model.ReservationFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, list.Items, len(late)+1)
	priorities := make([]int, 0, len(list.Items))
	for _, r := range list.Items {
		priorities = append(priorities, r.Priority)
	}
	sort.Ints(priorities)
	for i, p := range priorities {
		require.Equal(t, i+1, p)
	}
}

func TestCancel_Reranks(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	e.reserve(t, e.addBorrower(t, "alice"))
	bob := e.reserve(t, e.addBorrower(t, "bob"))
	e.reserve(t, e.addBorrower(t, "carol"))

	cancelled, err := e.svc.Cancel(ctx, auth.Profile{Username: "bob", Role: auth.RoleBorrower}, bob.ReservationUid)
	require.NoError(t, err)
	require.Equal(t, model.ReservationCancelled, cancelled.Status)

	// remaining priorities stay contiguous from 1 in arrival order
	list, err := e.svc.List(ctx, auth.Profile{Username: "librarian", Role: auth.RoleLibrarian}, model.ReservationFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	byUser := map[string]int{}
	for _, r := range list.Items {
		byUser[r.Username] = r.Priority
	}
	require.Equal(t, map[string]int{"alice": 1, "carol": 2}, byUser)
}

func TestCancel_Forbidden(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	rsv := e.reserve(t, e.addBorrower(t, "alice"))
	e.addBorrower(t, "mallory")

	_, err := e.svc.Cancel(context.Background(), auth.Profile{Username: "mallory", Role: auth.RoleBorrower}, rsv.ReservationUid)
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestFulfill(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	rsv := e.reserve(t, e.addBorrower(t, "alice"))
	staffProfile := auth.Profile{Username: e.staff.Username, Role: e.staff.Role}

	// no copy on the shelf yet
	_, err := e.svc.Fulfill(ctx, staffProfile, rsv.ReservationUid)
	require.ErrorIs(t, err, errs.ErrNotYetAvailable)

	require.NoError(t, e.repo.AdjustCopies(ctx, e.book.ID, 1, 1))
	got, err := e.svc.Fulfill(ctx, staffProfile, rsv.ReservationUid)
	require.NoError(t, err)
	require.Equal(t, model.ReservationFulfilled, got.Status)
	require.NotNil(t, got.FulfilledDate)

	// a settled reservation cannot be fulfilled again
	_, err = e.svc.Fulfill(ctx, staffProfile, rsv.ReservationUid)
	require.ErrorIs(t, err, errs.ErrReservationClosed)
}

func TestAutoExpire(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	alice := e.addBorrower(t, "alice")
	bob := e.addBorrower(t, "bob")

	// alice's reservation is already past its expiry
	_, err := e.repo.CreateReservation(ctx, model.Reservation{
		UserID:          alice.ID,
		BookID:          e.book.ID,
		ReservationDate: time.Now().Add(-48 * time.Hour),
		ExpiryDate:      time.Now().Add(-time.Hour),
		Priority:        1,
	})
	require.NoError(t, err)
	_, err = e.repo.CreateReservation(ctx, model.Reservation{
		UserID:          bob.ID,
		BookID:          e.book.ID,
		ReservationDate: time.Now().Add(-24 * time.Hour),
		ExpiryDate:      time.Now().Add(24 * time.Hour),
		Priority:        2,
	})
	require.NoError(t, err)

	expired, err := e.svc.AutoExpire(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	// bob moves to the head of the queue
	next, err := e.svc.Next(ctx, e.book.ID)
	require.NoError(t, err)
	require.Equal(t, "bob", next.Username)
	require.Equal(t, 1, next.Priority)

	// a second sweep finds nothing
	expired, err = e.svc.AutoExpire(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, expired)
}
