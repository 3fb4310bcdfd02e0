// auth.go — аутентификация запросов.
// JWTAuth проверяет Bearer token по JWKS IdP, различает пользователей и
// сервисные аккаунты, маппит группы в роль и применяет роль из зеркала users.
// FixedIdentity — режим bypassed для разработки: все запросы выполняются
// от имени фиксированного пользователя.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/propfolio/internal/api/errors"
	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/domain/rbac"
	"github.com/bigkaa/propfolio/internal/service"
)

// ErrUnauthenticated — нет валидной сессии или IdP отклонил токен.
var ErrUnauthenticated = errors.New("не аутентифицирован")

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyUser — аутентифицированный субъект в контексте запроса.
const ContextKeyUser contextKey = "authenticated_user"

// Authenticator разрешает запрос в аутентифицированного субъекта.
// Ошибки аутентификации оборачивают ErrUnauthenticated.
type Authenticator interface {
	Authenticate(r *http.Request) (*model.AuthenticatedUser, error)
}

// UserResolver — зеркало пользователей. Реализуется service.UserDirectory.
type UserResolver interface {
	// Resolve создаёт или обновляет запись пользователя и возвращает её.
	Resolve(ctx context.Context, id uuid.UUID, email string) (*model.User, error)
}

// idpClaims — raw claims из JWT IdP.
type idpClaims struct {
	jwt.RegisteredClaims
	Email       string       `json:"email"`
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
	Groups      []string     `json:"groups,omitempty"`
	// Scope — scopes через пробел (для сервисного аккаунта)
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth — аутентификация по JWT через JWKS IdP.
type JWTAuth struct {
	jwks        keyfunc.Keyfunc
	resolver    UserResolver
	adminGroups []string
	issuer      string
	leeway      time.Duration
	logger      *slog.Logger
}

// NewJWTAuth создаёт JWTAuth с JWKS из IdP.
// Ключи обновляются в фоне раз в refreshInterval до отмены ctx;
// старт не требует доступности IdP.
func NewJWTAuth(
	ctx context.Context,
	jwksURL string,
	issuer string,
	resolver UserResolver,
	adminGroups []string,
	refreshInterval time.Duration,
	leeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Ctx:                       ctx,
		Client:                    &http.Client{Timeout: 10 * time.Second},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, issuer, resolver, adminGroups, leeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWTAuth с предоставленной keyfunc.
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	resolver UserResolver,
	adminGroups []string,
	leeway time.Duration,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:        kf,
		resolver:    resolver,
		adminGroups: adminGroups,
		issuer:      issuer,
		leeway:      leeway,
		logger:      logger.With(slog.String("component", "jwt_auth")),
	}
}

// Authenticate проверяет Bearer token и формирует субъекта.
func (j *JWTAuth) Authenticate(r *http.Request) (*model.AuthenticatedUser, error) {
	tokenString, err := bearerToken(r)
	if err != nil {
		return nil, err
	}

	raw := &idpClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, raw, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
	if err != nil || !token.Valid {
		j.logger.Debug("JWT валидация не пройдена",
			slog.Any("error", err),
			slog.String("remote_addr", r.RemoteAddr),
		)
		return nil, fmt.Errorf("%w: невалидный или просроченный токен", ErrUnauthenticated)
	}

	if raw.Subject == "" {
		return nil, fmt.Errorf("%w: отсутствует sub", ErrUnauthenticated)
	}

	// Сервисный аккаунт (Client Credentials) имеет client_id и scope
	if raw.ClientID != "" && raw.Scope != "" {
		return &model.AuthenticatedUser{
			Subject:     raw.Subject,
			SubjectType: model.SubjectTypeServiceAccount,
			ClientID:    raw.ClientID,
			Scopes:      strings.Fields(raw.Scope),
			Role:        rbac.RoleClient,
		}, nil
	}

	id, err := uuid.Parse(raw.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: sub не является UUID", ErrUnauthenticated)
	}

	user := &model.AuthenticatedUser{
		ID:          id,
		Subject:     raw.Subject,
		SubjectType: model.SubjectTypeUser,
		Email:       raw.Email,
		Groups:      raw.Groups,
		IdpRole:     j.idpRole(raw),
	}

	if err := resolveStoredRole(r.Context(), j.resolver, user); err != nil {
		return nil, err
	}
	return user, nil
}

// idpRole вычисляет роль из групп, а при их отсутствии из realm roles.
func (j *JWTAuth) idpRole(raw *idpClaims) string {
	if role := rbac.MapGroupsToRole(raw.Groups, j.adminGroups); role != "" {
		return role
	}
	if raw.RealmAccess != nil {
		for _, r := range raw.RealmAccess.Roles {
			if r == rbac.RoleAdmin {
				return rbac.RoleAdmin
			}
		}
	}
	return ""
}

// resolveStoredRole зеркалирует пользователя и вычисляет итоговую роль.
func resolveStoredRole(ctx context.Context, resolver UserResolver, user *model.AuthenticatedUser) error {
	if resolver != nil {
		stored, err := resolver.Resolve(ctx, user.ID, user.Email)
		if errors.Is(err, service.ErrInvalidUser) {
			return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		if err != nil {
			return fmt.Errorf("зеркалирование пользователя: %w", err)
		}
		user.StoredRole = stored.Role
		if user.Email == "" {
			user.Email = stored.Email
		}
	}
	user.Role = rbac.EffectiveRole(user.IdpRole, user.StoredRole)
	return nil
}

// bearerToken извлекает токен из заголовка Authorization.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("%w: отсутствует заголовок Authorization", ErrUnauthenticated)
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: ожидается Bearer <token>", ErrUnauthenticated)
	}
	return strings.TrimSpace(parts[1]), nil
}

// FixedIdentity — все запросы аутентифицируются как фиксированный пользователь.
// Допустим только при PF_ENV=development (проверяется config.Load).
type FixedIdentity struct {
	id       uuid.UUID
	email    string
	resolver UserResolver
}

// NewFixedIdentity создаёт аутентификатор режима bypassed.
func NewFixedIdentity(id uuid.UUID, email string, resolver UserResolver) *FixedIdentity {
	return &FixedIdentity{id: id, email: email, resolver: resolver}
}

// Authenticate возвращает фиксированного пользователя; запрос не проверяется.
func (f *FixedIdentity) Authenticate(r *http.Request) (*model.AuthenticatedUser, error) {
	user := &model.AuthenticatedUser{
		ID:          f.id,
		Subject:     f.id.String(),
		SubjectType: model.SubjectTypeUser,
		Email:       f.email,
	}
	if err := resolveStoredRole(r.Context(), f.resolver, user); err != nil {
		return nil, err
	}
	return user, nil
}

// RequireAuth возвращает middleware, требующий аутентификации для всех путей,
// кроме начинающихся с publicPrefixes. Отказ — 401 без подробностей;
// прочие ошибки (хранилище) — 500, текст раскрывается только при exposeErrors.
func RequireAuth(authn Authenticator, exposeErrors bool, logger *slog.Logger, publicPrefixes ...string) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "auth"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range publicPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			user, err := authn.Authenticate(r)
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					logger.Debug("Запрос отклонён", slog.String("reason", err.Error()), slog.String("path", r.URL.Path))
					apierrors.Unauthorized(w)
					return
				}
				logger.Error("Ошибка аутентификации", slog.String("error", err.Error()))
				apierrors.StorageError(w, err, exposeErrors)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// --- Context helpers ---

// WithUser помещает субъекта в контекст.
func WithUser(ctx context.Context, user *model.AuthenticatedUser) context.Context {
	return context.WithValue(ctx, ContextKeyUser, user)
}

// UserFromContext извлекает субъекта из контекста. nil, если не найден.
func UserFromContext(ctx context.Context) *model.AuthenticatedUser {
	user, _ := ctx.Value(ContextKeyUser).(*model.AuthenticatedUser)
	return user
}

// --- ReadinessChecker для IdP ---

// IDPReadinessChecker — проверка доступности JWKS endpoint IdP.
type IDPReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewIDPReadinessChecker создаёт checker доступности IdP.
func NewIDPReadinessChecker(jwksURL string, timeout time.Duration) *IDPReadinessChecker {
	return &IDPReadinessChecker{
		jwksURL: jwksURL,
		client:  &http.Client{Timeout: timeout},
	}
}

const statusFail = "fail"

// CheckReady проверяет, что JWKS доступен и содержит ключи.
func (k *IDPReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return statusFail, fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
