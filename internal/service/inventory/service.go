// Package inventory is the copy ledger: it owns the owned/available
// counts of every book and is the only code allowed to move them.
package inventory

import (
	"context"

	"go.uber.org/zap"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/model"
)

type Repository interface {
	GetBook(ctx context.Context, bookUid string) (model.Book, error)
	LockBook(ctx context.Context, bookID int) error
	ReserveCopy(ctx context.Context, bookID int) error
	ReleaseCopy(ctx context.Context, bookID int) error
	RetireCopy(ctx context.Context, bookID int) error
	AdjustCopies(ctx context.Context, bookID, total, available int) error
}

type Service struct {
	log  *zap.Logger
	repo Repository
}

func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{
		log:  log,
		repo: repo,
	}
}

func (s *Service) GetBook(ctx context.Context, bookUid string) (model.Book, error) {
	return s.repo.GetBook(ctx, bookUid)
}

// LockBook serializes all subsequent ledger and queue work on the book
// within the surrounding transaction.
func (s *Service) LockBook(ctx context.Context, bookID int) error {
	return s.repo.LockBook(ctx, bookID)
}

func (s *Service) ReserveCopy(ctx context.Context, bookID int) error {
	return s.repo.ReserveCopy(ctx, bookID)
}

func (s *Service) ReleaseCopy(ctx context.Context, bookID int) error {
	if err := s.repo.ReleaseCopy(ctx, bookID); err != nil {
		if errs.KindOf(err) == errs.KindInvariantViolation {
			s.log.Error("release would exceed owned copies", zap.Int("book_id", bookID), zap.Error(err))
		}
		return err
	}
	return nil
}

func (s *Service) RetireCopy(ctx context.Context, bookID int) error {
	return s.repo.RetireCopy(ctx, bookID)
}

// AdjustTotals is the staff re-stocking operation.
func (s *Service) AdjustTotals(ctx context.Context, bookUid string, total, available int) (model.Book, error) {
	if total < 0 || available < 0 || available > total {
		return model.Book{}, errs.ErrInvalidRange
	}
	book, err := s.repo.GetBook(ctx, bookUid)
	if err != nil {
		return model.Book{}, err
	}
	if err := s.repo.AdjustCopies(ctx, book.ID, total, available); err != nil {
		return model.Book{}, err
	}
	return s.repo.GetBook(ctx, bookUid)
}
