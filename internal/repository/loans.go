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

var loanColumns = []string{
	"l.id", "l.loan_uid", "l.user_id", "u.username", "l.book_id", "b.book_uid",
	"b.title as book_title", "l.issue_date", "l.due_date", "l.return_date",
	"l.fine_amount", "l.status", "l.issued_by", "l.returned_by", "l.notes",
}

func loanQuery() sq.SelectBuilder {
	return qb.Select(loanColumns...).
		From(loansTableName + " l").
		Join(usersTableName + " u on u.id = l.user_id").
		Join(booksTableName + " b on b.id = l.book_id")
}

func (r *repository) getLoan(ctx context.Context, pred interface{}, forUpdate bool) (model.Loan, error) {
	q := loanQuery().Where(pred)
	if forUpdate {
		q = q.Suffix("for update of l")
	}
	query, args, err := q.ToSql()
	if err != nil {
		return model.Loan{}, err
	}
	var loan model.Loan
	if err := r.ext(ctx).GetContext(ctx, &loan, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Loan{}, errs.ErrNotFound
		}
		return model.Loan{}, errors.Wrap(err, "getLoan")
	}
	return loan, nil
}

func (r *repository) CreateLoan(ctx context.Context, loan model.Loan) (model.Loan, error) {
	q, args, err := qb.Insert(loansTableName).
		Columns("loan_uid", "user_id", "book_id", "issue_date", "due_date", "status", "issued_by", "notes").
		Values(uuid.New(), loan.UserID, loan.BookID, loan.IssueDate, loan.DueDate, model.LoanIssued, loan.IssuedBy, loan.Notes).
		Suffix("returning id").
		ToSql()
	if err != nil {
		return model.Loan{}, err
	}
	var id int
	if err := r.ext(ctx).GetContext(ctx, &id, q, args...); err != nil {
		return model.Loan{}, errors.Wrap(err, "CreateLoan")
	}
	return r.getLoan(ctx, sq.Eq{"l.id": id}, false)
}

func (r *repository) GetLoan(ctx context.Context, loanUid string) (model.Loan, error) {
	return r.getLoan(ctx, sq.Eq{"l.loan_uid": loanUid}, false)
}

func (r *repository) GetLoanForUpdate(ctx context.Context, loanUid string) (model.Loan, error) {
	return r.getLoan(ctx, sq.Eq{"l.loan_uid": loanUid}, true)
}

func (r *repository) CountOpenLoans(ctx context.Context, userID int) (int, error) {
	q := `select count(*) from loans where user_id = $1 and status = 'issued'`
	var count int
	if err := r.ext(ctx).GetContext(ctx, &count, q, userID); err != nil {
		return 0, errors.Wrap(err, "CountOpenLoans")
	}
	return count, nil
}

func (r *repository) HasOpenLoan(ctx context.Context, userID, bookID int) (bool, error) {
	q := `select exists(select 1 from loans where user_id = $1 and book_id = $2 and status = 'issued')`
	var has bool
	if err := r.ext(ctx).GetContext(ctx, &has, q, userID, bookID); err != nil {
		return false, errors.Wrap(err, "HasOpenLoan")
	}
	return has, nil
}

func (r *repository) CloseLoan(ctx context.Context, loanID int, status model.LoanStatus, returnDate time.Time, fineAmount decimal.Decimal, returnedBy int, notes string) error {
	q, args, err := qb.Update(loansTableName).
		Set("status", status).
		Set("return_date", returnDate).
		Set("fine_amount", fineAmount).
		Set("returned_by", returnedBy).
		Set("notes", notes).
		Where(sq.Eq{"id": loanID, "status": model.LoanIssued}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.ext(ctx).ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "CloseLoan")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrLoanClosed
	}
	return nil
}

func (r *repository) ExtendLoan(ctx context.Context, loanID int, newDue time.Time, note string) error {
	q := `
update loans
    set due_date = $2,
        notes = trim(both E'\n' from notes || E'\n' || $3)
where id = $1 and status = 'issued'`
	res, err := r.ext(ctx).ExecContext(ctx, q, loanID, newDue, note)
	if err != nil {
		return errors.Wrap(err, "ExtendLoan")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrLoanClosed
	}
	return nil
}

func (r *repository) ListLoans(ctx context.Context, f model.LoanFilter) (model.ListLoans, error) {
	q := loanQuery().OrderBy("l.issue_date desc")
	if f.Username != "" {
		q = q.Where(sq.Eq{"u.username": f.Username})
	}
	if f.OverdueOnly {
		q = q.Where(sq.Eq{"l.status": model.LoanIssued}).
			Where("l.due_date < now()")
	}
	if f.Page != 0 && f.Size != 0 {
		q = q.Limit(uint64(f.Size)).Offset(uint64((f.Page - 1) * f.Size))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return model.ListLoans{}, err
	}
	var loans []model.Loan
	if err := r.ext(ctx).SelectContext(ctx, &loans, query, args...); err != nil {
		return model.ListLoans{}, errors.Wrap(err, "ListLoans")
	}
	return model.ListLoans{
		Paging: model.Paging{
			Page:          f.Page,
			PageSize:      f.Size,
			TotalElements: len(loans),
		},
		Items: loans,
	}, nil
}

// ListDueBetween feeds the reminder scan; it only reads the overdue
// predicate, loan state is never mutated here.
func (r *repository) ListDueBetween(ctx context.Context, from, to time.Time) ([]model.Loan, error) {
	query, args, err := loanQuery().
		Where(sq.Eq{"l.status": model.LoanIssued}).
		Where(sq.GtOrEq{"l.due_date": from}).
		Where(sq.Lt{"l.due_date": to}).
		OrderBy("l.due_date").
		ToSql()
	if err != nil {
		return nil, err
	}
	var loans []model.Loan
	if err := r.ext(ctx).SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, errors.Wrap(err, "ListDueBetween")
	}
	return loans, nil
}
