package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/domain/rbac"
	"github.com/bigkaa/propfolio/internal/service"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key-pf"

const testIssuer = "https://auth.propfolio.test/realms/propfolio"

// mockResolver — мок зеркала пользователей.
type mockResolver struct {
	roles map[uuid.UUID]string
	err   error
	calls int
}

func (m *mockResolver) Resolve(_ context.Context, id uuid.UUID, email string) (*model.User, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	role := rbac.RoleClient
	if r, ok := m.roles[id]; ok {
		role = r
	}
	return &model.User{ID: id, Email: email, Role: role}, nil
}

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey, resolver UserResolver) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, resolver, []string{"propfolio-admins"}, 0, testLogger())
}

// signToken подписывает claims тестовым ключом.
func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

// userClaims — claims пользователя с exp через час.
func userClaims(sub, email string, groups ...string) jwt.MapClaims {
	claims := jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"iss":   testIssuer,
		"exp":   jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat":   jwt.NewNumericDate(time.Now()),
	}
	if len(groups) > 0 {
		claims["groups"] = groups
	}
	return claims
}

func requestWithToken(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestJWTAuth_User(t *testing.T) {
	key := generateTestKey(t)
	resolver := &mockResolver{}
	auth := newTestJWTAuth(t, key, resolver)

	id := uuid.New()
	user, err := auth.Authenticate(requestWithToken(signToken(t, key, userClaims(id.String(), "ann@example.com"))))
	if err != nil {
		t.Fatalf("Authenticate() вернул ошибку: %v", err)
	}

	if user.ID != id || user.Email != "ann@example.com" {
		t.Errorf("user = %+v", user)
	}
	if user.SubjectType != model.SubjectTypeUser {
		t.Errorf("SubjectType = %q, ожидается user", user.SubjectType)
	}
	if user.Role != rbac.RoleClient {
		t.Errorf("Role = %q, ожидается client", user.Role)
	}
	if resolver.calls != 1 {
		t.Errorf("Resolve вызван %d раз, ожидается 1", resolver.calls)
	}
}

func TestJWTAuth_AdminRoles(t *testing.T) {
	key := generateTestKey(t)
	id := uuid.New()

	t.Run("группа IdP", func(t *testing.T) {
		auth := newTestJWTAuth(t, key, &mockResolver{})
		user, err := auth.Authenticate(requestWithToken(signToken(t, key, userClaims(id.String(), "a@example.com", "propfolio-admins"))))
		if err != nil {
			t.Fatal(err)
		}
		if user.Role != rbac.RoleAdmin || user.IdpRole != rbac.RoleAdmin {
			t.Errorf("Role = %q, IdpRole = %q", user.Role, user.IdpRole)
		}
	})

	t.Run("realm role", func(t *testing.T) {
		auth := newTestJWTAuth(t, key, &mockResolver{})
		claims := userClaims(id.String(), "a@example.com")
		claims["realm_access"] = map[string]any{"roles": []string{"offline_access", "admin"}}
		user, err := auth.Authenticate(requestWithToken(signToken(t, key, claims)))
		if err != nil {
			t.Fatal(err)
		}
		if user.Role != rbac.RoleAdmin {
			t.Errorf("Role = %q, ожидается admin", user.Role)
		}
	})

	t.Run("роль из зеркала", func(t *testing.T) {
		auth := newTestJWTAuth(t, key, &mockResolver{roles: map[uuid.UUID]string{id: rbac.RoleAdmin}})
		user, err := auth.Authenticate(requestWithToken(signToken(t, key, userClaims(id.String(), "a@example.com"))))
		if err != nil {
			t.Fatal(err)
		}
		if user.Role != rbac.RoleAdmin || user.StoredRole != rbac.RoleAdmin || user.IdpRole != "" {
			t.Errorf("Role = %q, StoredRole = %q, IdpRole = %q", user.Role, user.StoredRole, user.IdpRole)
		}
	})
}

func TestJWTAuth_ServiceAccount(t *testing.T) {
	key := generateTestKey(t)
	resolver := &mockResolver{}
	auth := newTestJWTAuth(t, key, resolver)

	claims := jwt.MapClaims{
		"sub":       "service-account-importer",
		"client_id": "importer",
		"scope":     "profile properties:write",
		"iss":       testIssuer,
		"exp":       jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	user, err := auth.Authenticate(requestWithToken(signToken(t, key, claims)))
	if err != nil {
		t.Fatalf("Authenticate() вернул ошибку: %v", err)
	}

	if !user.IsServiceAccount() || user.ID != uuid.Nil {
		t.Errorf("user = %+v, ожидается сервисный аккаунт с пустым ID", user)
	}
	if !user.HasScope(rbac.ScopePropertiesWrite) {
		t.Errorf("Scopes = %v, ожидается %s", user.Scopes, rbac.ScopePropertiesWrite)
	}
	if resolver.calls != 0 {
		t.Errorf("сервисный аккаунт не должен зеркалироваться, вызовов: %d", resolver.calls)
	}
}

func TestJWTAuth_Rejected(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	id := uuid.New().String()

	expired := userClaims(id, "a@example.com")
	expired["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := userClaims(id, "a@example.com")
	wrongIssuer["iss"] = "https://evil.test/realms/propfolio"

	noExp := userClaims(id, "a@example.com")
	delete(noExp, "exp")

	tests := []struct {
		name  string
		token string
	}{
		{"нет токена", ""},
		{"мусор", "not-a-jwt"},
		{"просрочен", signToken(t, key, expired)},
		{"чужой issuer", signToken(t, key, wrongIssuer)},
		{"без exp", signToken(t, key, noExp)},
		{"чужой ключ", signToken(t, otherKey, userClaims(id, "a@example.com"))},
		{"sub не UUID", signToken(t, key, userClaims("ann", "a@example.com"))},
	}

	auth := newTestJWTAuth(t, key, &mockResolver{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Authenticate(requestWithToken(tt.token))
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("ожидается ErrUnauthenticated, получено: %v", err)
			}
		})
	}
}

func TestJWTAuth_WrongScheme(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key, &mockResolver{})

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	if _, err := auth.Authenticate(req); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("ожидается ErrUnauthenticated, получено: %v", err)
	}
}

func TestJWTAuth_ResolverErrors(t *testing.T) {
	key := generateTestKey(t)
	token := signToken(t, key, userClaims(uuid.New().String(), "a@example.com"))

	t.Run("некорректный пользователь", func(t *testing.T) {
		auth := newTestJWTAuth(t, key, &mockResolver{err: service.ErrInvalidUser})
		_, err := auth.Authenticate(requestWithToken(token))
		if !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("ожидается ErrUnauthenticated, получено: %v", err)
		}
	})

	t.Run("хранилище недоступно", func(t *testing.T) {
		auth := newTestJWTAuth(t, key, &mockResolver{err: service.ErrStorageUnavailable})
		_, err := auth.Authenticate(requestWithToken(token))
		if err == nil || errors.Is(err, ErrUnauthenticated) {
			t.Errorf("ожидается ошибка хранилища, получено: %v", err)
		}
		if !errors.Is(err, service.ErrStorageUnavailable) {
			t.Errorf("исходная ошибка должна сохраняться: %v", err)
		}
	})
}

func TestFixedIdentity(t *testing.T) {
	id := uuid.New()
	auth := NewFixedIdentity(id, "dev@propfolio.local", &mockResolver{roles: map[uuid.UUID]string{id: rbac.RoleAdmin}})

	user, err := auth.Authenticate(httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if err != nil {
		t.Fatalf("Authenticate() вернул ошибку: %v", err)
	}
	if user.ID != id || user.Email != "dev@propfolio.local" || user.Role != rbac.RoleAdmin {
		t.Errorf("user = %+v", user)
	}
}

// authFunc — Authenticator из функции.
type authFunc func(r *http.Request) (*model.AuthenticatedUser, error)

func (f authFunc) Authenticate(r *http.Request) (*model.AuthenticatedUser, error) { return f(r) }

func TestRequireAuth(t *testing.T) {
	subject := &model.AuthenticatedUser{ID: uuid.New(), Subject: "s", Role: rbac.RoleClient}

	var seen *model.AuthenticatedUser
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		authErr    error
		expose     bool
		path       string
		wantStatus int
		wantBody   string
		wantUser   bool
	}{
		{name: "аутентифицирован", path: "/api/me", wantStatus: http.StatusNoContent, wantUser: true},
		{name: "отказ", authErr: ErrUnauthenticated, path: "/api/me", wantStatus: http.StatusUnauthorized, wantBody: `"unauthorized"`},
		{name: "публичный путь", authErr: ErrUnauthenticated, path: "/health/live", wantStatus: http.StatusNoContent},
		{name: "ошибка хранилища скрыта", authErr: errors.New("dial tcp 10.0.0.5:5432"), path: "/api/me", wantStatus: http.StatusInternalServerError, wantBody: `"internal error"`},
		{name: "ошибка хранилища раскрыта", authErr: errors.New("dial tcp 10.0.0.5:5432"), expose: true, path: "/api/me", wantStatus: http.StatusInternalServerError, wantBody: "10.0.0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			authn := authFunc(func(*http.Request) (*model.AuthenticatedUser, error) {
				if tt.authErr != nil {
					return nil, tt.authErr
				}
				return subject, nil
			})

			handler := RequireAuth(authn, tt.expose, testLogger(), "/health/", "/metrics")(next)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, ожидается %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, ожидается %q", rec.Body.String(), tt.wantBody)
			}
			if tt.wantUser != (seen != nil) {
				t.Errorf("субъект в контексте = %v, ожидается %v", seen != nil, tt.wantUser)
			}
		})
	}
}

func TestIDPReadinessChecker(t *testing.T) {
	key := generateTestKey(t)

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus string
	}{
		{
			name: "ok",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write(buildJWKSetJSON(&key.PublicKey, testKeyID))
			},
			wantStatus: "ok",
		},
		{
			name: "нет ключей",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"keys":[]}`))
			},
			wantStatus: "degraded",
		},
		{
			name: "ошибка сервера",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantStatus: "fail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			status, msg := NewIDPReadinessChecker(srv.URL, time.Second).CheckReady()
			if status != tt.wantStatus {
				t.Errorf("status = %q (%s), ожидается %q", status, msg, tt.wantStatus)
			}
		})
	}
}
