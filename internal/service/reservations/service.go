// Package reservations owns the per-book waiting list and is the only
// writer of queue priorities.
package reservations

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/model"
	"github.com/openshelf/library-service/pkg/auth"
)

type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetBook(ctx context.Context, bookUid string) (model.Book, error)
	LockBook(ctx context.Context, bookID int) error
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	HasOpenLoan(ctx context.Context, userID, bookID int) (bool, error)

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

type Service struct {
	log    *zap.Logger
	repo   Repository
	policy model.Policy
}

func NewService(repo Repository, policy model.Policy, log *zap.Logger) *Service {
	return &Service{
		log:    log,
		repo:   repo,
		policy: policy,
	}
}

// Create puts a borrower in line for a book with no free copies.
// The whole count-then-assign step runs under the book row lock, so
// priorities for one book are handed out serially.
func (s *Service) Create(ctx context.Context, borrower model.User, req model.CreateReservationRequest) (model.Reservation, error) {
	var created model.Reservation
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		book, err := s.repo.GetBook(ctx, req.BookUid)
		if err != nil {
			return err
		}
		if err := s.repo.LockBook(ctx, book.ID); err != nil {
			return err
		}
		// availability can change while waiting for the lock, only the
		// post-lock read counts
		book, err = s.repo.GetBook(ctx, req.BookUid)
		if err != nil {
			return err
		}
		if book.AvailableCopies > 0 && book.Status == model.BookAvailable {
			return errs.ErrBookAvailable
		}
		holding, err := s.repo.HasOpenLoan(ctx, borrower.ID, book.ID)
		if err != nil {
			return err
		}
		if holding {
			return errs.ErrAlreadyHolding
		}
		active, err := s.repo.CountActiveReservations(ctx, borrower.ID)
		if err != nil {
			return err
		}
		if active >= s.policy.ReserveLimit(borrower.Role) {
			return errs.ErrLimitExceeded
		}
		now := time.Now()
		if !req.ExpiryDate.After(now) {
			return errs.ErrInvalidDate
		}
		queued, err := s.repo.CountActiveForBook(ctx, book.ID)
		if err != nil {
			return err
		}
		created, err = s.repo.CreateReservation(ctx, model.Reservation{
			UserID:          borrower.ID,
			BookID:          book.ID,
			ReservationDate: now,
			ExpiryDate:      req.ExpiryDate.Time,
			Priority:        queued + 1,
		})
		return err
	})
	return created, err
}

func (s *Service) Cancel(ctx context.Context, actor auth.Profile, reservationUid string) (model.Reservation, error) {
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		rsv, err := s.repo.GetReservation(ctx, reservationUid)
		if err != nil {
			return err
		}
		if rsv.Username != actor.Username && !auth.IsStaff(actor.Role) {
			return errs.ErrForbidden
		}
		if err := s.repo.LockBook(ctx, rsv.BookID); err != nil {
			return err
		}
		if err := s.repo.CloseReservation(ctx, rsv.ID, model.ReservationCancelled, nil, time.Now()); err != nil {
			return err
		}
		return s.repo.RerankBook(ctx, rsv.BookID)
	})
	if err != nil {
		return model.Reservation{}, err
	}
	return s.repo.GetReservation(ctx, reservationUid)
}

// Fulfill hands the reserved book over; it does not touch the ledger,
// the borrower still issues the copy as usual.
func (s *Service) Fulfill(ctx context.Context, actor auth.Profile, reservationUid string) (model.Reservation, error) {
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		rsv, err := s.repo.GetReservation(ctx, reservationUid)
		if err != nil {
			return err
		}
		if err := s.repo.LockBook(ctx, rsv.BookID); err != nil {
			return err
		}
		book, err := s.repo.GetBook(ctx, rsv.BookUid)
		if err != nil {
			return err
		}
		if book.AvailableCopies == 0 {
			return errs.ErrNotYetAvailable
		}
		staff, err := s.repo.GetUserByUsername(ctx, actor.Username)
		if err != nil {
			return err
		}
		if err := s.repo.CloseReservation(ctx, rsv.ID, model.ReservationFulfilled, &staff.ID, time.Now()); err != nil {
			return err
		}
		return s.repo.RerankBook(ctx, rsv.BookID)
	})
	if err != nil {
		return model.Reservation{}, err
	}
	return s.repo.GetReservation(ctx, reservationUid)
}

// AutoExpire sweeps every active reservation past its expiry date and
// re-ranks each affected book. Running it twice is a no-op the second
// time.
func (s *Service) AutoExpire(ctx context.Context) (int, error) {
	var count int
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		expired, err := s.repo.ExpireDue(ctx, time.Now())
		if err != nil {
			return err
		}
		count = len(expired)
		books := map[int]struct{}{}
		for _, rsv := range expired {
			books[rsv.BookID] = struct{}{}
		}
		for bookID := range books {
			if err := s.repo.RerankBook(ctx, bookID); err != nil {
				return err
			}
		}
		return nil
	})
	return count, err
}

// Next yields the head of the queue for a book, if any.
func (s *Service) Next(ctx context.Context, bookID int) (model.Reservation, error) {
	return s.repo.NextActiveForBook(ctx, bookID)
}

func (s *Service) List(ctx context.Context, actor auth.Profile, f model.ReservationFilter) (model.ListReservations, error) {
	if !auth.IsStaff(actor.Role) {
		f.Username = actor.Username
	}
	return s.repo.ListReservations(ctx, f)
}
