package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

const (
	RoleAdmin     = "admin"
	RoleLibrarian = "librarian"
	RoleBorrower  = "borrower"
)

// IsStaff reports whether the role may act on other borrowers' records.
func IsStaff(role string) bool {
	return role == RoleAdmin || role == RoleLibrarian
}

type Config struct {
	Secret   string        `envconfig:"JWT_SECRET" default:"change-me"`
	TokenTTL time.Duration `envconfig:"JWT_TTL" default:"12h"`
}

type Profile struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Claims struct {
	Profile Profile `json:"profile"`
	jwt.RegisteredClaims
}

func NewToken(cfg Config, username, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		Profile: Profile{Username: username, Role: role},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TokenTTL)),
			Subject:   username,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

func ParseToken(cfg Config, tokenStr string) (*Claims, error) {
	claims := new(Claims)
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

type ctxKey struct{}

func SetAuthContext(ctx context.Context, username, role string) context.Context {
	return context.WithValue(ctx, ctxKey{}, Profile{Username: username, Role: role})
}

// FromContext yields the authenticated profile set by the jwt middleware.
func FromContext(ctx context.Context) (Profile, error) {
	p, ok := ctx.Value(ctxKey{}).(Profile)
	if !ok {
		return Profile{}, errors.New("no auth profile in context")
	}
	return p, nil
}
