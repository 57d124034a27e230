package repository

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/model"
)

var fineColumns = []string{
	"f.id", "f.fine_uid", "f.user_id", "u.username", "f.loan_id", "l.loan_uid",
	"f.amount", "f.reason", "f.payment_status", "f.payment_date",
	"f.payment_method", "f.processed_by", "f.notes", "f.created_at",
}

func fineQuery() sq.SelectBuilder {
	return qb.Select(fineColumns...).
		From(finesTableName + " f").
		Join(usersTableName + " u on u.id = f.user_id").
		LeftJoin(loansTableName + " l on l.id = f.loan_id")
}

func (r *repository) CreateFine(ctx context.Context, fine model.Fine) (model.Fine, error) {
	q, args, err := qb.Insert(finesTableName).
		Columns("fine_uid", "user_id", "loan_id", "amount", "reason", "payment_status", "notes").
		Values(uuid.New(), fine.UserID, fine.LoanID, fine.Amount, fine.Reason, model.PaymentPending, fine.Notes).
		Suffix("returning id").
		ToSql()
	if err != nil {
		return model.Fine{}, err
	}
	var id int
	if err := r.ext(ctx).GetContext(ctx, &id, q, args...); err != nil {
		// the partial unique index enforces one overdue fine per loan
		if isUniqueViolation(err) {
			return model.Fine{}, errs.ErrDuplicateFine
		}
		return model.Fine{}, errors.Wrap(err, "CreateFine")
	}
	return r.getFine(ctx, sq.Eq{"f.id": id})
}

func (r *repository) getFine(ctx context.Context, pred interface{}) (model.Fine, error) {
	query, args, err := fineQuery().Where(pred).ToSql()
	if err != nil {
		return model.Fine{}, err
	}
	var fine model.Fine
	if err := r.ext(ctx).GetContext(ctx, &fine, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Fine{}, errs.ErrNotFound
		}
		return model.Fine{}, errors.Wrap(err, "getFine")
	}
	return fine, nil
}

func (r *repository) GetFine(ctx context.Context, fineUid string) (model.Fine, error) {
	return r.getFine(ctx, sq.Eq{"f.fine_uid": fineUid})
}

// SettleFine moves a pending fine to paid or waived. A settled fine is
// immutable, so a zero-row update means the fine left pending earlier.
func (r *repository) SettleFine(ctx context.Context, fineID int, status model.PaymentStatus, method *string, processedBy int, note string, when time.Time) error {
	q := qb.Update(finesTableName).
		Set("payment_status", status).
		Set("payment_method", method).
		Set("processed_by", processedBy).
		Set("notes", note).
		Where(sq.Eq{"id": fineID, "payment_status": model.PaymentPending})
	if status == model.PaymentPaid {
		q = q.Set("payment_date", when)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	res, err := r.ext(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "SettleFine")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current model.PaymentStatus
		if err := r.ext(ctx).GetContext(ctx, &current, `select payment_status from fines where id = $1`, fineID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errs.ErrNotFound
			}
			return errors.Wrap(err, "SettleFine status")
		}
		if current == model.PaymentWaived {
			return errs.ErrFineWaived
		}
		return errs.ErrFinePaid
	}
	return nil
}

func (r *repository) OutstandingTotal(ctx context.Context, userID int) (decimal.Decimal, error) {
	q := `
select coalesce(sum(amount), 0) from fines
where user_id = $1 and payment_status = 'pending'`
	var total decimal.Decimal
	if err := r.ext(ctx).GetContext(ctx, &total, q, userID); err != nil {
		return decimal.Zero, errors.Wrap(err, "OutstandingTotal")
	}
	return total, nil
}

func (r *repository) ListFines(ctx context.Context, f model.FineFilter) (model.ListFines, error) {
	q := fineQuery().OrderBy("f.created_at desc")
	if f.Username != "" {
		q = q.Where(sq.Eq{"u.username": f.Username})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"f.payment_status": f.Status})
	}
	if f.Page != 0 && f.Size != 0 {
		q = q.Limit(uint64(f.Size)).Offset(uint64((f.Page - 1) * f.Size))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return model.ListFines{}, err
	}
	var fines []model.Fine
	if err := r.ext(ctx).SelectContext(ctx, &fines, query, args...); err != nil {
		return model.ListFines{}, errors.Wrap(err, "ListFines")
	}
	return model.ListFines{
		Paging: model.Paging{
			Page:          f.Page,
			PageSize:      f.Size,
			TotalElements: len(fines),
		},
		Items: fines,
	}, nil
}
