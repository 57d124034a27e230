package repository

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/model"
)

func (r *repository) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	q, args, err := qb.Insert(usersTableName).
		Columns("user_uid", "username", "password_hash", "full_name", "email", "role", "active").
		Values(uuid.New(), user.Username, user.PasswordHash, user.FullName, user.Email, user.Role, true).
		Suffix("returning *").
		ToSql()
	if err != nil {
		return model.User{}, err
	}
	var created model.User
	if err := r.ext(ctx).GetContext(ctx, &created, q, args...); err != nil {
		if isUniqueViolation(err) {
			return model.User{}, errs.ErrUsernameTaken
		}
		return model.User{}, errors.Wrap(err, "CreateUser")
	}
	return created, nil
}

func (r *repository) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	q, args, err := qb.Select("*").
		From(usersTableName).
		Where(sq.Eq{"username": username}).
		ToSql()
	if err != nil {
		return model.User{}, err
	}
	var user model.User
	if err := r.ext(ctx).GetContext(ctx, &user, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, errs.ErrNotFound
		}
		return model.User{}, errors.Wrap(err, "GetUserByUsername")
	}
	return user, nil
}

func (r *repository) ListUsers(ctx context.Context, page, size int) (model.ListUsers, error) {
	q := qb.Select("*").
		From(usersTableName).
		OrderBy("id")
	if page != 0 && size != 0 {
		q = q.Limit(uint64(size)).Offset(uint64((page - 1) * size))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return model.ListUsers{}, err
	}
	var users []model.User
	if err := r.ext(ctx).SelectContext(ctx, &users, query, args...); err != nil {
		return model.ListUsers{}, errors.Wrap(err, "ListUsers")
	}
	return model.ListUsers{
		Paging: model.Paging{
			Page:          page,
			PageSize:      size,
			TotalElements: len(users),
		},
		Items: users,
	}, nil
}

func (r *repository) SetUserActive(ctx context.Context, username string, active bool) error {
	q, args, err := qb.Update(usersTableName).
		Set("active", active).
		Where(sq.Eq{"username": username}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.ext(ctx).ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "SetUserActive")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
