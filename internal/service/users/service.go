// Package users is the identity surface: registration, login and the
// staff view over borrower accounts.
package users

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/model"
	"github.com/openshelf/library-service/pkg/auth"
)

type Repository interface {
	CreateUser(ctx context.Context, user model.User) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	ListUsers(ctx context.Context, page, size int) (model.ListUsers, error)
	SetUserActive(ctx context.Context, username string, active bool) error
}

type Service struct {
	log     *zap.Logger
	repo    Repository
	authCfg auth.Config
}

func NewService(repo Repository, authCfg auth.Config, log *zap.Logger) *Service {
	return &Service{
		log:     log,
		repo:    repo,
		authCfg: authCfg,
	}
}

// Register creates an account. Only the staff path may pick a role;
// self-registration always yields a borrower.
func (s *Service) Register(ctx context.Context, req model.RegisterRequest, allowRole bool) (model.User, error) {
	role := auth.RoleBorrower
	if allowRole && req.Role != "" {
		role = req.Role
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, err
	}
	return s.repo.CreateUser(ctx, model.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Email:        req.Email,
		Role:         role,
	})
}

func (s *Service) Login(ctx context.Context, req model.LoginRequest) (model.LoginResponse, error) {
	user, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return model.LoginResponse{}, errs.ErrInvalidCredentials
		}
		return model.LoginResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return model.LoginResponse{}, errs.ErrInvalidCredentials
	}
	if !user.Active {
		return model.LoginResponse{}, errs.ErrBorrowerInactive
	}
	token, err := auth.NewToken(s.authCfg, user.Username, user.Role)
	if err != nil {
		return model.LoginResponse{}, err
	}
	return model.LoginResponse{Token: token, User: user}, nil
}

func (s *Service) Get(ctx context.Context, username string) (model.User, error) {
	return s.repo.GetUserByUsername(ctx, username)
}

func (s *Service) List(ctx context.Context, page, size int) (model.ListUsers, error) {
	return s.repo.ListUsers(ctx, page, size)
}

func (s *Service) SetActive(ctx context.Context, username string, active bool) error {
	return s.repo.SetUserActive(ctx, username, active)
}
