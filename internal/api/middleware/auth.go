// auth.go - аутентификация вызывающих сторон API.
// Три вида учётных данных:
//   - X-Service-Token - доверенные внутренние сервисы (роль service);
//   - Bearer RS256 от ERP - сотрудники (роль staff), ключ из PEM или JWKS;
//   - Bearer HS256 сессии Mini App - работники (роль worker).
package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/worklog/internal/api/errors"
	"github.com/bigkaa/worklog/internal/service"
)

// ServiceTokenHeader - заголовок токена внутренних сервисов.
const ServiceTokenHeader = "X-Service-Token"

type contextKey string

// ContextKeyCaller - вызывающая сторона в контексте запроса.
const ContextKeyCaller contextKey = "caller"

// SessionVerifier проверяет сессионные токены Mini App.
type SessionVerifier interface {
	VerifySession(token string) (*service.Caller, error)
}

// AuthOptions - параметры проверки токенов.
type AuthOptions struct {
	// PublicKeyPEM - публичный ключ ERP (RS256).
	PublicKeyPEM string
	// JWKSURL - JWKS ERP; используется, если PublicKeyPEM пуст.
	JWKSURL string
	// JWKSRefresh - интервал обновления JWKS.
	JWKSRefresh time.Duration
	Issuer      string
	Audience    string
	Leeway      time.Duration
	// ServiceToken - токен внутренних сервисов (пусто - заголовок не принимается).
	ServiceToken string
}

// Auth - middleware аутентификации.
type Auth struct {
	erpKey       func(ctx context.Context) jwt.Keyfunc
	sessions     SessionVerifier
	issuer       string
	audience     string
	leeway       time.Duration
	serviceToken string
	logger       *slog.Logger
}

// NewAuth создаёт middleware. Без ключа ERP токены сотрудников не принимаются.
func NewAuth(opts AuthOptions, sessions SessionVerifier, logger *slog.Logger) (*Auth, error) {
	a := newAuth(opts, sessions, logger)

	switch {
	case opts.PublicKeyPEM != "":
		pem := strings.ReplaceAll(opts.PublicKeyPEM, `\n`, "\n")
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, fmt.Errorf("разбор JWT_PUBLIC_KEY: %w", err)
		}
		kf := func(*jwt.Token) (any, error) { return pub, nil }
		a.erpKey = func(context.Context) jwt.Keyfunc { return kf }

	case opts.JWKSURL != "":
		refresh := opts.JWKSRefresh
		if refresh <= 0 {
			refresh = time.Hour
		}
		// NoErrorReturnFirstHTTPReq - стартуем, даже если ERP ещё недоступен.
		storage, err := jwkset.NewStorageFromHTTP(opts.JWKSURL, jwkset.HTTPClientStorageOptions{
			NoErrorReturnFirstHTTPReq: true,
			RefreshInterval:           refresh,
			RefreshErrorHandler: func(_ context.Context, err error) {
				logger.Error("Ошибка обновления JWKS",
					slog.String("error", err.Error()),
					slog.String("url", opts.JWKSURL),
				)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("создание JWKS storage: %w", err)
		}
		k, err := keyfunc.New(keyfunc.Options{Storage: storage})
		if err != nil {
			return nil, fmt.Errorf("создание keyfunc: %w", err)
		}
		a.erpKey = k.KeyfuncCtx

	default:
		a.logger.Warn("Ключ ERP не настроен: токены сотрудников отклоняются")
	}
	return a, nil
}

// NewAuthWithKeyfunc создаёт middleware с заданной keyfunc ERP (для тестов).
func NewAuthWithKeyfunc(kf jwt.Keyfunc, opts AuthOptions, sessions SessionVerifier, logger *slog.Logger) *Auth {
	a := newAuth(opts, sessions, logger)
	if kf != nil {
		a.erpKey = func(context.Context) jwt.Keyfunc { return kf }
	}
	return a
}

func newAuth(opts AuthOptions, sessions SessionVerifier, logger *slog.Logger) *Auth {
	return &Auth{
		sessions:     sessions,
		issuer:       opts.Issuer,
		audience:     opts.Audience,
		leeway:       opts.Leeway,
		serviceToken: opts.ServiceToken,
		logger:       logger.With(slog.String("component", "auth")),
	}
}

// Middleware проверяет учётные данные и кладёт *service.Caller в контекст.
func (a *Auth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := a.authenticate(r)
			if err != nil {
				a.logger.Debug("Аутентификация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, r, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

var (
	errNoCredentials = errors.New("отсутствует заголовок Authorization")
	errBadFormat     = errors.New("неверный формат Authorization: ожидается Bearer <token>")
	errInvalidToken  = errors.New("невалидный или просроченный токен")
	errServiceToken  = errors.New("неверный служебный токен")
)

func (a *Auth) authenticate(r *http.Request) (*service.Caller, error) {
	if tok := r.Header.Get(ServiceTokenHeader); tok != "" {
		if a.serviceToken == "" || subtle.ConstantTimeCompare([]byte(tok), []byte(a.serviceToken)) != 1 {
			return nil, errServiceToken
		}
		return &service.Caller{Subject: "service", Role: service.RoleService}, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errNoCredentials
	}
	scheme, tokenString, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
		return nil, errBadFormat
	}

	// Алгоритм из заголовка лишь выбирает проверяющего; подпись
	// проверяется ниже с жёстким списком допустимых методов.
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, errInvalidToken
	}
	if unverified.Method.Alg() == jwt.SigningMethodHS256.Alg() {
		if a.sessions == nil {
			return nil, errInvalidToken
		}
		caller, err := a.sessions.VerifySession(tokenString)
		if err != nil {
			return nil, errInvalidToken
		}
		return caller, nil
	}
	return a.verifyERP(r.Context(), tokenString)
}

func (a *Auth) verifyERP(ctx context.Context, tokenString string) (*service.Caller, error) {
	if a.erpKey == nil {
		return nil, errInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, a.erpKey(ctx), opts...)
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}
	if claims.Subject == "" {
		return nil, errors.New("отсутствует sub в токене")
	}
	return &service.Caller{Subject: claims.Subject, Role: service.RoleStaff}, nil
}

// --- RBAC ---

// RequireRole пропускает вызывающих с одной из ролей.
// Используется после Auth.Middleware().
func RequireRole(roles ...service.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := CallerFromContext(r.Context())
			if caller == nil {
				apierrors.Unauthorized(w, r, "Отсутствует вызывающая сторона в контексте")
				return
			}
			for _, role := range roles {
				if caller.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			names := make([]string, len(roles))
			for i, role := range roles {
				names[i] = string(role)
			}
			apierrors.Forbidden(w, r, "Недостаточно прав: требуется роль "+strings.Join(names, " или "))
		})
	}
}

// --- Context helpers ---

// WithCaller кладёт вызывающую сторону в контекст.
func WithCaller(ctx context.Context, c *service.Caller) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, c)
}

// CallerFromContext извлекает вызывающую сторону; nil, если её нет.
func CallerFromContext(ctx context.Context) *service.Caller {
	c, _ := ctx.Value(ContextKeyCaller).(*service.Caller)
	return c
}
