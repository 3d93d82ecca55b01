package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/service"
)

const (
	testKeyID    = "test-key-erp"
	testIssuer   = "https://erp.test"
	testAudience = "worklog"
	testSvcToken = "svc-secret"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// fakeSessions принимает токены с sub = workerID без проверки подписи.
type fakeSessions struct{ workerID uuid.UUID }

func (f *fakeSessions) VerifySession(token string) (*service.Caller, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	if claims["sub"] != f.workerID.String() {
		return nil, errors.New("чужой токен")
	}
	return &service.Caller{Subject: f.workerID.String(), Role: service.RoleWorker, WorkerID: f.workerID}, nil
}

func newTestAuth(t *testing.T, key *rsa.PrivateKey, sessions SessionVerifier) *Auth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuthWithKeyfunc(kf.Keyfunc, AuthOptions{
		Issuer:       testIssuer,
		Audience:     testAudience,
		ServiceToken: testSvcToken,
	}, sessions, logger)
}

func erpToken(t *testing.T, key *rsa.PrivateKey, sub, iss, aud string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"iss": iss,
		"aud": aud,
		"exp": jwt.NewNumericDate(exp),
		"iat": jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func sessionToken(t *testing.T, sub string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub}).SignedString([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAuth_Middleware(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	workerID := uuid.New()
	auth := newTestAuth(t, key, &fakeSessions{workerID: workerID})
	hour := time.Now().Add(time.Hour)

	tests := []struct {
		name     string
		header   string
		value    string
		wantCode int
		wantRole service.Role
	}{
		{"служебный токен", ServiceTokenHeader, testSvcToken, http.StatusOK, service.RoleService},
		{"неверный служебный токен", ServiceTokenHeader, "nope", http.StatusUnauthorized, ""},
		{"токен ERP", "Authorization", "Bearer " + erpToken(t, key, "staff-1", testIssuer, testAudience, hour), http.StatusOK, service.RoleStaff},
		{"просроченный токен ERP", "Authorization", "Bearer " + erpToken(t, key, "staff-1", testIssuer, testAudience, time.Now().Add(-time.Hour)), http.StatusUnauthorized, ""},
		{"чужой issuer", "Authorization", "Bearer " + erpToken(t, key, "staff-1", "https://evil", testAudience, hour), http.StatusUnauthorized, ""},
		{"чужая audience", "Authorization", "Bearer " + erpToken(t, key, "staff-1", testIssuer, "other", hour), http.StatusUnauthorized, ""},
		{"чужой ключ", "Authorization", "Bearer " + erpToken(t, otherKey, "staff-1", testIssuer, testAudience, hour), http.StatusUnauthorized, ""},
		{"сессия Mini App", "Authorization", "Bearer " + sessionToken(t, workerID.String()), http.StatusOK, service.RoleWorker},
		{"отклонённая сессия", "Authorization", "Bearer " + sessionToken(t, uuid.NewString()), http.StatusUnauthorized, ""},
		{"без заголовка", "", "", http.StatusUnauthorized, ""},
		{"не Bearer", "Authorization", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
		{"мусор вместо токена", "Authorization", "Bearer abc", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *service.Caller
			h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = CallerFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/worklog/workers", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("статус = %d, ожидается %d, тело: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if got == nil || got.Role != tt.wantRole {
				t.Errorf("вызывающий = %+v, ожидается роль %s", got, tt.wantRole)
			}
		})
	}
}

func TestAuth_ERPSubject(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestAuth(t, key, nil)
	var got *service.Caller
	h := auth.Middleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = CallerFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+erpToken(t, key, "staff-42", testIssuer, testAudience, time.Now().Add(time.Hour)))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.Subject != "staff-42" {
		t.Fatalf("вызывающий = %+v, ожидается sub staff-42", got)
	}
	if got.Actor() != "staff:staff-42" {
		t.Errorf("Actor() = %q", got.Actor())
	}
}

func TestAuth_NoServiceTokenConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := NewAuthWithKeyfunc(nil, AuthOptions{}, nil, logger)
	h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ServiceTokenHeader, "anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("статус = %d, ожидается 401 при ненастроенном токене", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		caller *service.Caller
		want   int
	}{
		{"service", &service.Caller{Role: service.RoleService}, http.StatusOK},
		{"staff", &service.Caller{Role: service.RoleStaff}, http.StatusOK},
		{"worker", &service.Caller{Role: service.RoleWorker}, http.StatusForbidden},
		{"нет вызывающего", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireRole(service.RoleService, service.RoleStaff)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.caller != nil {
				req = req.WithContext(WithCaller(req.Context(), tt.caller))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.want)
			}
		})
	}
}
