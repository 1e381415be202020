// Package service holds the authority's application logic: accounts and betas.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/beta-sketch/internal/crypto"
	"github.com/and161185/beta-sketch/internal/errs"
	"github.com/and161185/beta-sketch/internal/limiter"
	"github.com/and161185/beta-sketch/internal/model"
	"github.com/and161185/beta-sketch/internal/repository"
)

// DefaultAccessTTL is the lifetime of an access token unless WithAccessTTL says otherwise.
const DefaultAccessTTL = 15 * time.Minute

// TokenIssuer is the iss claim of every access token.
const TokenIssuer = "betasketch"

const (
	minUsernameLen = 3
	maxUsernameLen = 32
)

// AuthService defines account operations.
type AuthService interface {
	// Register creates a new user and returns its id.
	Register(ctx context.Context, username, password string) (userID string, err error)
	// LoginWithIP authenticates the user, rate-limited per (username, ip).
	LoginWithIP(ctx context.Context, username, password string, ip string) (tokens model.Tokens, user model.User, err error)
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	log       *zap.Logger
	now       func() time.Time
}

// AuthOption configures AuthServiceImpl.
type AuthOption func(*AuthServiceImpl)

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(d time.Duration) AuthOption {
	return func(s *AuthServiceImpl) {
		if d > 0 {
			s.accessTTL = d
		}
	}
}

// WithLimiter enables login throttling. A nil limiter disables it.
func WithLimiter(l limiter.Limiter) AuthOption {
	return func(s *AuthServiceImpl) {
		if l != nil {
			s.lim = l
		}
	}
}

// WithAuthLogger sets the logger.
func WithAuthLogger(l *zap.Logger) AuthOption {
	return func(s *AuthServiceImpl) {
		if l != nil {
			s.log = l
		}
	}
}

// NewAuthService signs access tokens with signKey (HS256).
func NewAuthService(users repository.UserRepository, signKey []byte, opts ...AuthOption) *AuthServiceImpl {
	s := &AuthServiceImpl{
		users:     users,
		signKey:   signKey,
		accessTTL: DefaultAccessTTL,
		lim:       limiter.Noop{},
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NormalizeUsername trims and lowercases a climber's handle and checks that it is
// 3-32 characters of [a-z0-9._-].
func NormalizeUsername(raw string) (string, error) {
	u := strings.ToLower(strings.TrimSpace(raw))
	if n := utf8.RuneCountInString(u); n < minUsernameLen || n > maxUsernameLen {
		return "", fmt.Errorf("%w: username must be %d-%d characters", errs.ErrValidation, minUsernameLen, maxUsernameLen)
	}
	for _, r := range u {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return "", fmt.Errorf("%w: username may contain only a-z 0-9 . _ -", errs.ErrValidation)
		}
	}
	return u, nil
}

// Register creates a new user record with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (string, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return "", err
	}
	if err := pkgcrypto.CheckPassword(password); err != nil {
		return "", err
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	salt, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return "", err
	}
	u := &model.User{
		ID:       uid,
		Username: name,
		PwdHash:  pkgcrypto.HashPassword([]byte(password), salt),
		SaltAuth: salt,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	s.log.Info("user registered", zap.String("user", uid.String()))
	return uid.String(), nil
}

// LoginWithIP authenticates with rate limiting by (username, ip). An unknown user and
// a wrong password both yield errs.ErrUnauthorized.
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}
	ipHash := limiter.HashIP(ip)

	allowed, retry, err := s.lim.Allow(ctx, name, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, fmt.Errorf("limiter: %w", err)
	}
	if !allowed {
		s.log.Info("login throttled", zap.String("username", name), zap.Duration("retryIn", retry))
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, name)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), u.SaltAuth, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, name, ipHash); ferr == nil && blocked {
			s.log.Warn("login blocked after repeated failures", zap.String("username", name))
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, name, ipHash); err != nil {
		s.log.Warn("reset login limiter", zap.Error(err))
	}

	access, exp, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}
	claims := jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   userID.String(),
		ID:        jti.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	return signed, exp, err
}
