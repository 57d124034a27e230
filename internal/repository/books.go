package repository

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/model"
)

func (r *repository) CreateBook(ctx context.Context, book model.Book) (model.Book, error) {
	q, args, err := qb.Insert(booksTableName).
		Columns("book_uid", "title", "author", "category", "isbn", "status", "total_copies", "available_copies").
		Values(uuid.New(), book.Title, book.Author, book.Category, book.ISBN, model.BookAvailable, book.TotalCopies, book.TotalCopies).
		Suffix("returning *").
		ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var created model.Book
	if err := r.ext(ctx).GetContext(ctx, &created, q, args...); err != nil {
		return model.Book{}, errors.Wrap(err, "CreateBook")
	}
	return created, nil
}

func (r *repository) GetBook(ctx context.Context, bookUid string) (model.Book, error) {
	q, args, err := qb.Select("*").
		From(booksTableName).
		Where(sq.Eq{"book_uid": bookUid}).
		ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var book model.Book
	if err := r.ext(ctx).GetContext(ctx, &book, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Book{}, errs.ErrNotFound
		}
		return model.Book{}, errors.Wrap(err, "GetBook")
	}
	return book, nil
}

func (r *repository) UpdateBook(ctx context.Context, bookUid string, req model.UpdateBookRequest) (model.Book, error) {
	q := qb.Update(booksTableName).
		Where(sq.Eq{"book_uid": bookUid}).
		Suffix("returning *")
	if req.Title != nil {
		q = q.Set("title", *req.Title)
	}
	if req.Author != nil {
		q = q.Set("author", *req.Author)
	}
	if req.Category != nil {
		q = q.Set("category", *req.Category)
	}
	if req.ISBN != nil {
		q = q.Set("isbn", *req.ISBN)
	}
	if req.Status != nil {
		q = q.Set("status", *req.Status)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return model.Book{}, err
	}
	var book model.Book
	if err := r.ext(ctx).GetContext(ctx, &book, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Book{}, errs.ErrNotFound
		}
		return model.Book{}, errors.Wrap(err, "UpdateBook")
	}
	return book, nil
}

func (r *repository) DeleteBook(ctx context.Context, bookUid string) error {
	q, args, err := qb.Delete(booksTableName).
		Where(sq.Eq{"book_uid": bookUid}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.ext(ctx).ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "DeleteBook")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *repository) ListBooks(ctx context.Context, f model.BookFilter) (model.ListBooks, error) {
	q := qb.Select("*").
		From(booksTableName).
		OrderBy("title")
	if f.Title != "" {
		q = q.Where("title ~* ?", f.Title)
	}
	if f.Author != "" {
		q = q.Where("author ~* ?", f.Author)
	}
	if !f.ShowAll {
		q = q.Where(sq.Gt{"available_copies": 0})
	}
	if f.Page != 0 && f.Size != 0 {
		q = q.Limit(uint64(f.Size)).Offset(uint64((f.Page - 1) * f.Size))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return model.ListBooks{}, err
	}
	var books []model.Book
	if err := r.ext(ctx).SelectContext(ctx, &books, query, args...); err != nil {
		return model.ListBooks{}, errors.Wrap(err, "ListBooks")
	}
	return model.ListBooks{
		Paging: model.Paging{
			Page:          f.Page,
			PageSize:      f.Size,
			TotalElements: len(books),
		},
		Items: books,
	}, nil
}

func (r *repository) LockBook(ctx context.Context, bookID int) error {
	var id int
	q := `select id from books where id = $1 for update`
	if err := r.ext(ctx).GetContext(ctx, &id, q, bookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errs.ErrNotFound
		}
		return errors.Wrap(err, "LockBook")
	}
	return nil
}

// ReserveCopy is the single conditional decrement: no read-modify-write,
// so two borrowers can never take the same last copy.
func (r *repository) ReserveCopy(ctx context.Context, bookID int) error {
	q := `
update books
    set available_copies = available_copies - 1
where id = $1 and available_copies > 0 and status = 'available'`
	res, err := r.ext(ctx).ExecContext(ctx, q, bookID)
	if err != nil {
		return errors.Wrap(err, "ReserveCopy")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := r.ext(ctx).GetContext(ctx, &exists, `select exists(select 1 from books where id = $1)`, bookID); err != nil {
			return errors.Wrap(err, "ReserveCopy exists")
		}
		if !exists {
			return errs.ErrNotFound
		}
		return errs.ErrBookUnavailable
	}
	return nil
}

// ReleaseCopy refuses to push available above total: a failed guard
// means some caller released twice.
func (r *repository) ReleaseCopy(ctx context.Context, bookID int) error {
	q := `
update books
    set available_copies = available_copies + 1
where id = $1 and available_copies < total_copies`
	res, err := r.ext(ctx).ExecContext(ctx, q, bookID)
	if err != nil {
		return errors.Wrap(err, "ReleaseCopy")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := r.ext(ctx).GetContext(ctx, &exists, `select exists(select 1 from books where id = $1)`, bookID); err != nil {
			return errors.Wrap(err, "ReleaseCopy exists")
		}
		if !exists {
			return errs.ErrNotFound
		}
		r.log.Error("double release of a book copy", zap.Int("book_id", bookID))
		return errs.ErrInconsistent
	}
	return nil
}

// RetireCopy shrinks the owned pool by one, for a copy reported lost.
// The guard keeps total_copies >= available_copies.
func (r *repository) RetireCopy(ctx context.Context, bookID int) error {
	q := `
update books
    set total_copies = total_copies - 1
where id = $1 and total_copies > available_copies`
	res, err := r.ext(ctx).ExecContext(ctx, q, bookID)
	if err != nil {
		return errors.Wrap(err, "RetireCopy")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := r.ext(ctx).GetContext(ctx, &exists, `select exists(select 1 from books where id = $1)`, bookID); err != nil {
			return errors.Wrap(err, "RetireCopy exists")
		}
		if !exists {
			return errs.ErrNotFound
		}
		r.log.Error("retire without a copy in circulation", zap.Int("book_id", bookID))
		return errs.ErrInconsistent
	}
	return nil
}

func (r *repository) AdjustCopies(ctx context.Context, bookID, total, available int) error {
	q, args, err := qb.Update(booksTableName).
		Set("total_copies", total).
		Set("available_copies", available).
		Where(sq.Eq{"id": bookID}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.ext(ctx).ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "AdjustCopies")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
