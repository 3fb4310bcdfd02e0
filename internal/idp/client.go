// client.go — клиент Admin REST API.
// Service account token получается через Client Credentials flow
// и кэшируется до истечения (обновление за 30s).
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound — ресурс отсутствует в IdP.
	ErrNotFound = errors.New("ресурс не найден в IdP")
	// ErrUnavailable — IdP недоступен или ответил ошибкой сервера.
	ErrUnavailable = errors.New("IdP недоступен")
)

// Client — HTTP-клиент к Admin REST API.
type Client struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string

	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New создаёт клиент. httpClient может быть nil.
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "idp_client")),
	}
}

func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, c.realm)
}

func (c *Client) adminBaseURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", c.baseURL, c.realm)
}

// getToken возвращает актуальный access token, обновляя при необходимости.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(30*time.Second).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	token, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	c.logger.Debug("Токен IdP обновлён",
		slog.Time("expires_at", c.tokenExpiry),
	)

	return c.accessToken, nil
}

func (c *Client) requestToken(ctx context.Context) (*TokenResponse, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return nil, fmt.Errorf("PF_IDP_CLIENT_ID и PF_IDP_CLIENT_SECRET не заданы")
	}

	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, statusError("запрос токена", resp.StatusCode, body)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена: %w", err)
	}

	return &token, nil
}

// doAuthorized выполняет запрос к Admin REST API с авторизацией.
func (c *Client) doAuthorized(ctx context.Context, method, path string) (*http.Response, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.adminBaseURL()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, path, ErrUnavailable, err)
	}
	return resp, nil
}

// statusError классифицирует ответ с неожиданным статусом.
func statusError(op string, status int, body []byte) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case status >= 500:
		return fmt.Errorf("%s: %w: статус %d: %s", op, ErrUnavailable, status, string(body))
	default:
		return fmt.Errorf("%s: IdP вернул статус %d: %s", op, status, string(body))
	}
}

// decodeResponse декодирует JSON ответ в target.
func decodeResponse(op string, resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return statusError(op, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%s: декодирование ответа: %w", op, err)
	}
	return nil
}

// FindUsersByEmail возвращает пользователей с точным совпадением email.
func (c *Client) FindUsersByEmail(ctx context.Context, email string) ([]User, error) {
	path := "/users?exact=true&email=" + url.QueryEscape(email)

	resp, err := c.doAuthorized(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	var users []User
	if err := decodeResponse("FindUsersByEmail", resp, &users); err != nil {
		return nil, err
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// GetUser возвращает пользователя по ID.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "/users/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	var user User
	if err := decodeResponse("GetUser", resp, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser удаляет учётную запись из IdP.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	resp, err := c.doAuthorized(ctx, http.MethodDelete, "/users/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return statusError("DeleteUser", resp.StatusCode, body)
	}

	c.logger.Info("Пользователь удалён из IdP", slog.String("idp_user_id", id))
	return nil
}

// RealmInfo возвращает информацию о realm.
func (c *Client) RealmInfo(ctx context.Context) (*Realm, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "")
	if err != nil {
		return nil, err
	}

	var realm Realm
	if err := decodeResponse("RealmInfo", resp, &realm); err != nil {
		return nil, err
	}
	return &realm, nil
}

// CheckReady проверяет доступность Admin API через realm info.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	realm, err := c.RealmInfo(ctx)
	if err != nil {
		return "fail", fmt.Sprintf("IdP недоступен: %v", err)
	}
	if !realm.Enabled {
		return "degraded", fmt.Sprintf("Realm %s отключён", realm.Realm)
	}
	return "ok", fmt.Sprintf("Realm %s доступен", realm.Realm)
}
