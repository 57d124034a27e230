package repository

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/model"
)

var reservationColumns = []string{
	"r.id", "r.reservation_uid", "r.user_id", "u.username", "r.book_id",
	"b.book_uid", "b.title as book_title", "r.reservation_date", "r.expiry_date",
	"r.status", "r.priority", "r.fulfilled_by", "r.fulfilled_date",
}

func reservationQuery() sq.SelectBuilder {
	return qb.Select(reservationColumns...).
		From(reservationsTableName + " r").
		Join(usersTableName + " u on u.id = r.user_id").
		Join(booksTableName + " b on b.id = r.book_id")
}

func (r *repository) getReservation(ctx context.Context, pred interface{}) (model.Reservation, error) {
	query, args, err := reservationQuery().Where(pred).ToSql()
	if err != nil {
		return model.Reservation{}, err
	}
	var res model.Reservation
	if err := r.ext(ctx).GetContext(ctx, &res, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Reservation{}, errs.ErrNotFound
		}
		return model.Reservation{}, errors.Wrap(err, "getReservation")
	}
	return res, nil
}

func (r *repository) CreateReservation(ctx context.Context, rsv model.Reservation) (model.Reservation, error) {
	q, args, err := qb.Insert(reservationsTableName).
		Columns("reservation_uid", "user_id", "book_id", "reservation_date", "expiry_date", "status", "priority").
		Values(uuid.New(), rsv.UserID, rsv.BookID, rsv.ReservationDate, rsv.ExpiryDate, model.ReservationActive, rsv.Priority).
		Suffix("returning id").
		ToSql()
	if err != nil {
		return model.Reservation{}, err
	}
	var id int
	if err := r.ext(ctx).GetContext(ctx, &id, q, args...); err != nil {
		// the partial unique index: one active reservation per (borrower, book)
		if isUniqueViolation(err) {
			return model.Reservation{}, errs.ErrDuplicateReservation
		}
		return model.Reservation{}, errors.Wrap(err, "CreateReservation")
	}
	return r.getReservation(ctx, sq.Eq{"r.id": id})
}

func (r *repository) GetReservation(ctx context.Context, reservationUid string) (model.Reservation, error) {
	return r.getReservation(ctx, sq.Eq{"r.reservation_uid": reservationUid})
}

func (r *repository) CountActiveReservations(ctx context.Context, userID int) (int, error) {
	q := `select count(*) from reservations where user_id = $1 and status = 'active'`
	var count int
	if err := r.ext(ctx).GetContext(ctx, &count, q, userID); err != nil {
		return 0, errors.Wrap(err, "CountActiveReservations")
	}
	return count, nil
}

func (r *repository) CountActiveForBook(ctx context.Context, bookID int) (int, error) {
	q := `select count(*) from reservations where book_id = $1 and status = 'active'`
	var count int
	if err := r.ext(ctx).GetContext(ctx, &count, q, bookID); err != nil {
		return 0, errors.Wrap(err, "CountActiveForBook")
	}
	return count, nil
}

// CloseReservation takes a reservation out of the active set; only
// active rows qualify, so repeated closes surface as ErrReservationClosed.
func (r *repository) CloseReservation(ctx context.Context, id int, to model.ReservationStatus, fulfilledBy *int, when time.Time) error {
	q := qb.Update(reservationsTableName).
		Set("status", to).
		Where(sq.Eq{"id": id, "status": model.ReservationActive})
	if to == model.ReservationFulfilled {
		q = q.Set("fulfilled_by", fulfilledBy).
			Set("fulfilled_date", when)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	res, err := r.ext(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "CloseReservation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrReservationClosed
	}
	return nil
}

// RerankBook rewrites the whole queue for one book in a single
// statement: priorities stay 1..N, ordered by reservation date.
func (r *repository) RerankBook(ctx context.Context, bookID int) error {
	q := `
update reservations r
    set priority = ranked.rn
from (
    select id, row_number() over (order by reservation_date, id) as rn
    from reservations
    where book_id = $1 and status = 'active'
) ranked
where r.id = ranked.id`
	if _, err := r.ext(ctx).ExecContext(ctx, q, bookID); err != nil {
		return errors.Wrap(err, "RerankBook")
	}
	return nil
}

func (r *repository) ExpireDue(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	q := `
update reservations
    set status = 'expired'
where status = 'active' and expiry_date < $1
returning id, reservation_uid, user_id, book_id, reservation_date, expiry_date, status, priority`
	var expired []model.Reservation
	if err := r.ext(ctx).SelectContext(ctx, &expired, q, now); err != nil {
		return nil, errors.Wrap(err, "ExpireDue")
	}
	return expired, nil
}

func (r *repository) NextActiveForBook(ctx context.Context, bookID int) (model.Reservation, error) {
	query, args, err := reservationQuery().
		Where(sq.Eq{"r.book_id": bookID, "r.status": model.ReservationActive}).
		OrderBy("r.priority").
		Limit(1).
		ToSql()
	if err != nil {
		return model.Reservation{}, err
	}
	var res model.Reservation
	if err := r.ext(ctx).GetContext(ctx, &res, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Reservation{}, errs.ErrNotFound
		}
		return model.Reservation{}, errors.Wrap(err, "NextActiveForBook")
	}
	return res, nil
}

func (r *repository) ListReservations(ctx context.Context, f model.ReservationFilter) (model.ListReservations, error) {
	q := reservationQuery().OrderBy("r.reservation_date desc")
	if f.Username != "" {
		q = q.Where(sq.Eq{"u.username": f.Username})
	}
	if f.BookUid != "" {
		q = q.Where(sq.Eq{"b.book_uid": f.BookUid})
	}
	if f.ActiveOnly {
		q = q.Where(sq.Eq{"r.status": model.ReservationActive})
	}
	if f.Page != 0 && f.Size != 0 {
		q = q.Limit(uint64(f.Size)).Offset(uint64((f.Page - 1) * f.Size))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return model.ListReservations{}, err
	}
	var items []model.Reservation
	if err := r.ext(ctx).SelectContext(ctx, &items, query, args...); err != nil {
		return model.ListReservations{}, errors.Wrap(err, "ListReservations")
	}
	return model.ListReservations{
		Paging: model.Paging{
			Page:          f.Page,
			PageSize:      f.Size,
			TotalElements: len(items),
		},
		Items: items,
	}, nil
}
