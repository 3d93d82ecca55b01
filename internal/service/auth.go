// auth.go - вызывающие стороны API и сессии Mini App.
//
// Работник входит через Telegram Mini App: подпись init data проверяется
// токеном бота, в ответ выдаётся короткоживущий HS256-токен (sub = worker_id).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/telegram"
)

// Role - роль вызывающей стороны API.
type Role string

const (
	// RoleService - доверенный внутренний сервис (X-Service-Token).
	RoleService Role = "service"
	// RoleStaff - пользователь ERP (RS256-токен).
	RoleStaff Role = "staff"
	// RoleWorker - работник из Mini App (сессионный токен).
	RoleWorker Role = "worker"
)

// SessionIssuer - issuer сессионных токенов.
const SessionIssuer = "worklog"

// Caller - аутентифицированная вызывающая сторона.
type Caller struct {
	Subject string
	Role    Role
	// WorkerID заполнен для RoleWorker.
	WorkerID uuid.UUID
}

// Trusted сообщает, что вызывающий видит все данные (service или staff).
func (c Caller) Trusted() bool {
	return c.Role == RoleService || c.Role == RoleStaff
}

// Actor - строка для полей created_by/answered_by/uploaded_by.
func (c Caller) Actor() string {
	if c.Role == RoleWorker {
		return "worker:" + c.WorkerID.String()
	}
	return string(c.Role) + ":" + c.Subject
}

// WorkerActor - Actor для работника, действующего через Telegram.
func WorkerActor(workerID uuid.UUID) string {
	return "worker:" + workerID.String()
}

// Session - выданный сессионный токен.
type Session struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Worker    *model.Worker `json:"worker"`
}

// AuthService - вход через Mini App и проверка сессионных токенов.
type AuthService struct {
	botToken string
	secret   []byte
	ttl      time.Duration
	maxAge   time.Duration
	resolver *Resolver
	now      func() time.Time
	logger   *slog.Logger
}

// NewAuthService создаёт сервис. maxAge - допустимый возраст init data.
func NewAuthService(botToken, sessionSecret string, ttl, maxAge time.Duration, resolver *Resolver, logger *slog.Logger) *AuthService {
	return &AuthService{
		botToken: botToken,
		secret:   []byte(sessionSecret),
		ttl:      ttl,
		maxAge:   maxAge,
		resolver: resolver,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "auth")),
	}
}

// TelegramLogin проверяет init data Mini App и выдаёт сессию активному работнику.
func (s *AuthService) TelegramLogin(ctx context.Context, initData string) (*Session, error) {
	if initData == "" {
		return nil, invalid("init_data", "обязательное поле")
	}
	data, err := telegram.ValidateInitData(initData, s.botToken, s.maxAge, s.now())
	if err != nil {
		s.logger.Warn("Отклонены init data Mini App", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	w, err := s.resolver.Worker(ctx, data.User.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: пользователь не зарегистрирован", ErrUnauthorized)
		}
		return nil, err
	}
	return s.IssueSession(w)
}

// IssueSession подписывает сессионный токен работника.
func (s *AuthService) IssueSession(w *model.Worker) (*Session, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    SessionIssuer,
		Subject:   w.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("подпись сессии: %w", err)
	}
	return &Session{Token: token, ExpiresAt: exp, Worker: w}, nil
}

// VerifySession проверяет сессионный токен и возвращает вызывающего.
func (s *AuthService) VerifySession(token string) (*Caller, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(SessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: некорректный sub", ErrUnauthorized)
	}
	return &Caller{Subject: claims.Subject, Role: RoleWorker, WorkerID: id}, nil
}
