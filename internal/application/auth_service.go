package application

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/student-records-api/internal/domain/entity"
	"github.com/oksasatya/student-records-api/internal/domain/repository"
	"github.com/oksasatya/student-records-api/pkg/helpers"
)

type AuthService struct {
	Store  repository.Store
	JWT    *helpers.JWTManager
	Redis  *redis.Client
	Logger *logrus.Logger
}

type TokenPair struct {
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry time.Time
}

type LoginResponse struct {
	AccountID int64    `json:"account_id"`
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	Groups    []string `json:"groups"`
}

func NewAuthService(store repository.Store, jwt *helpers.JWTManager, rdb *redis.Client, logger *logrus.Logger) *AuthService {
	return &AuthService{Store: store, JWT: jwt, Redis: rdb, Logger: logger}
}

// SessionKey is the Redis hash holding the live session of an account.
func SessionKey(accountID int64) string {
	return "account:session:" + strconv.FormatInt(accountID, 10)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Authenticate checks the credentials of an active account.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*entity.Account, error) {
	acc, err := s.Store.Accounts().GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) && s.Logger != nil {
			s.Logger.WithError(err).Error("account lookup failed")
		}
		return nil, ErrInvalidCredentials
	}
	if !acc.IsActive || !helpers.CompareHashAndPassword(acc.Password, password) {
		return nil, ErrInvalidCredentials
	}
	acc.Password = ""
	return acc, nil
}

func (s *AuthService) issue(ctx context.Context, acc *entity.Account) (TokenPair, error) {
	sid := uuid.NewString()
	access, aexp, err := s.JWT.GenerateAccessToken(acc.ID, sid)
	if err != nil {
		helpers.LogError(s.Logger, "generate access token failed", err, logrus.Fields{"account_id": acc.ID})
		return TokenPair{}, err
	}
	refresh, rexp, err := s.JWT.GenerateRefreshToken(acc.ID, sid)
	if err != nil {
		helpers.LogError(s.Logger, "generate refresh token failed", err, logrus.Fields{"account_id": acc.ID})
		return TokenPair{}, err
	}

	if s.Redis != nil {
		key := SessionKey(acc.ID)
		pipe := s.Redis.Pipeline()
		pipe.HSet(ctx, key, map[string]any{
			"account_id": acc.ID,
			"email":      acc.Email,
			"name":       acc.FullName(),
			"groups":     strings.Join(acc.Groups, ","),
			"sid":        sid,
			"updated_at": nowRFC3339(),
		})
		pipe.Expire(ctx, key, time.Until(rexp))
		if _, err := pipe.Exec(ctx); err != nil {
			helpers.LogError(s.Logger, "store session failed", err, logrus.Fields{"key": key})
			return TokenPair{}, err
		}
	}
	return TokenPair{AccessToken: access, AccessTokenExpiry: aexp, RefreshToken: refresh, RefreshTokenExpiry: rexp}, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResponse, TokenPair, error) {
	acc, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, TokenPair{}, err
	}
	pair, err := s.issue(ctx, acc)
	if err != nil {
		return nil, TokenPair{}, err
	}
	_ = s.Store.Audit().Record(ctx, auditEntry(ctx, acc, "login", nil))
	return &LoginResponse{AccountID: acc.ID, Email: acc.Email, Name: acc.FullName(), Groups: acc.Groups}, pair, nil
}

// Refresh rotates the session id and both tokens. The refresh token must
// belong to the current session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (TokenPair, int64, error) {
	claims, err := s.JWT.ParseRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, 0, ErrInvalidCredentials
	}
	if s.Redis != nil {
		sid, err := s.Redis.HGet(ctx, SessionKey(claims.AccountID), "sid").Result()
		if err != nil || sid != claims.SessionID {
			return TokenPair{}, 0, ErrInvalidCredentials
		}
	}
	acc, err := s.Store.Accounts().GetByID(ctx, claims.AccountID)
	if err != nil || !acc.IsActive {
		return TokenPair{}, 0, ErrInvalidCredentials
	}
	pair, err := s.issue(ctx, acc)
	if err != nil {
		return TokenPair{}, 0, err
	}
	return pair, acc.ID, nil
}

// Logout drops the account's session so outstanding tokens stop working.
func (s *AuthService) Logout(ctx context.Context, accountID int64) error {
	if s.Redis == nil {
		return nil
	}
	if err := helpers.RedisDel(ctx, s.Redis, SessionKey(accountID)); err != nil {
		return err
	}
	_ = s.Store.Audit().Record(ctx, auditEntry(ctx, &entity.Account{ID: accountID}, "logout", nil))
	return nil
}
