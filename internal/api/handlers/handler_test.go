package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/bigkaa/propfolio/internal/api/middleware"
	"github.com/bigkaa/propfolio/internal/api/openapi"
	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/domain/rbac"
	"github.com/bigkaa/propfolio/internal/repository"
	"github.com/bigkaa/propfolio/internal/service"
)

var portfolioCols = []string{"id", "user_id", "name", "globals", "start_year", "is_primary", "created_at"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// authFunc — Authenticator из функции.
type authFunc func(r *http.Request) (*model.AuthenticatedUser, error)

func (f authFunc) Authenticate(r *http.Request) (*model.AuthenticatedUser, error) { return f(r) }

// fixedUser аутентифицирует все запросы как user.
func fixedUser(user *model.AuthenticatedUser) middleware.Authenticator {
	return authFunc(func(*http.Request) (*model.AuthenticatedUser, error) { return user, nil })
}

// newTestRouter собирает маршруты API поверх pgxmock в том же порядке
// middleware, что и сервер.
func newTestRouter(t *testing.T, authn middleware.Authenticator, exposeErrors bool) (pgxmock.PgxPoolIface, http.Handler) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool() вернул ошибку: %v", err)
	}
	t.Cleanup(mock.Close)

	logger := discardLogger()
	store := service.NewStore(repository.NewAccess(mock, "propfolio_client"), time.Second, logger)
	portfolios := service.NewPortfolioService(store, logger)
	h := NewAPIHandler(
		NewHealthHandler(nil, nil),
		service.NewProvisioner(store, logger),
		portfolios,
		service.NewPropertyService(store, logger),
		service.NewProjectionService(portfolios),
		exposeErrors,
		logger,
	)

	doc, err := openapi.Load()
	if err != nil {
		t.Fatalf("openapi.Load() вернул ошибку: %v", err)
	}
	validate, err := middleware.OpenAPIValidator(doc, logger)
	if err != nil {
		t.Fatalf("OpenAPIValidator() вернул ошибку: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequireAuth(authn, exposeErrors, logger, "/health/", "/metrics", "/api/openapi.yaml"))
	r.Use(validate)
	return mock, openapi.HandlerFromMux(h, r, ParamErrorHandler)
}

func newClient() *model.AuthenticatedUser {
	id := uuid.New()
	return &model.AuthenticatedUser{
		ID:          id,
		Subject:     id.String(),
		SubjectType: model.SubjectTypeUser,
		Email:       "ann@example.com",
		Role:        rbac.RoleClient,
	}
}

func portfolioFor(owner uuid.UUID) *model.Portfolio {
	g := model.DefaultGlobals()
	return &model.Portfolio{
		ID:        uuid.New(),
		UserID:    owner,
		Name:      model.DefaultPortfolioName,
		Globals:   g,
		StartYear: g.StartYear,
		IsPrimary: true,
		CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func portfolioRows(t *testing.T, mock pgxmock.PgxPoolIface, portfolios ...*model.Portfolio) *pgxmock.Rows {
	t.Helper()
	rows := mock.NewRows(portfolioCols)
	for _, p := range portfolios {
		g, err := json.Marshal(p.Globals)
		if err != nil {
			t.Fatal(err)
		}
		rows.AddRow(p.ID, p.UserID, p.Name, g, p.StartYear, p.IsPrimary, p.CreatedAt)
	}
	return rows
}

// expectScoped — пролог scoped-транзакции.
func expectScoped(mock pgxmock.PgxPoolIface) {
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL ROLE").
		WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectExec("set_config").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUnauthenticated_NoPortfolioData(t *testing.T) {
	denied := authFunc(func(*http.Request) (*model.AuthenticatedUser, error) {
		return nil, middleware.ErrUnauthenticated
	})
	mock, h := newTestRouter(t, denied, false)

	for _, path := range []string{"/api/me", "/api/portfolios"} {
		rec := doRequest(h, http.MethodGet, path, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, ожидается 401", path, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "portfolio") {
			t.Errorf("%s: ответ содержит данные портфеля: %s", path, rec.Body.String())
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPublicEndpoints(t *testing.T) {
	denied := authFunc(func(*http.Request) (*model.AuthenticatedUser, error) {
		return nil, middleware.ErrUnauthenticated
	})
	_, h := newTestRouter(t, denied, false)

	rec := doRequest(h, http.MethodGet, "/health/live", "")
	if rec.Code != http.StatusOK {
		t.Errorf("/health/live: status = %d", rec.Code)
	}

	rec = doRequest(h, http.MethodGet, "/api/openapi.yaml", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "openapi: 3.0") {
		t.Errorf("/api/openapi.yaml: status = %d", rec.Code)
	}
}

func TestGetMe_ProvisionsPrimary(t *testing.T) {
	user := newClient()
	mock, h := newTestRouter(t, fixedUser(user), false)
	created := portfolioFor(user.ID)

	mock.ExpectQuery("LIMIT 1").WithArgs(user.ID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("ON CONFLICT").
		WithArgs(user.ID, model.DefaultPortfolioName, pgxmock.AnyArg(), 2024).
		WillReturnRows(portfolioRows(t, mock, created))

	rec := doRequest(h, http.MethodGet, "/api/me", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp openapi.MeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.User.ID != user.Subject || resp.User.Role != rbac.RoleClient {
		t.Errorf("user = %+v", resp.User)
	}
	if resp.Portfolio == nil || resp.Portfolio.ID != created.ID || !resp.Portfolio.IsPrimary {
		t.Errorf("portfolio = %+v, ожидается %s", resp.Portfolio, created.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetMe_ServiceAccountHasNoPortfolio(t *testing.T) {
	sa := &model.AuthenticatedUser{
		Subject:     "service-account-importer",
		SubjectType: model.SubjectTypeServiceAccount,
		ClientID:    "importer",
		Scopes:      []string{rbac.ScopePropertiesWrite},
		Role:        rbac.RoleClient,
	}
	mock, h := newTestRouter(t, fixedUser(sa), false)

	rec := doRequest(h, http.MethodGet, "/api/me", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `"portfolio"`) {
		t.Errorf("сервисный аккаунт не должен получать портфель: %s", rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListPortfolios_LazyProvisioning(t *testing.T) {
	user := newClient()
	mock, h := newTestRouter(t, fixedUser(user), false)
	created := portfolioFor(user.ID)

	expectScoped(mock)
	mock.ExpectQuery("WHERE user_id").WithArgs(user.ID).WillReturnRows(mock.NewRows(portfolioCols))
	mock.ExpectCommit()
	mock.ExpectQuery("LIMIT 1").WithArgs(user.ID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("ON CONFLICT").
		WithArgs(user.ID, model.DefaultPortfolioName, pgxmock.AnyArg(), 2024).
		WillReturnRows(portfolioRows(t, mock, created))

	rec := doRequest(h, http.MethodGet, "/api/portfolios", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp openapi.PortfolioListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Portfolios) != 1 || resp.Portfolios[0].ID != created.ID {
		t.Errorf("portfolios = %+v", resp.Portfolios)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListPortfolios_ForeignOwnerForbidden(t *testing.T) {
	user := newClient()
	mock, h := newTestRouter(t, fixedUser(user), false)

	rec := doRequest(h, http.MethodGet, "/api/portfolios?user_id="+uuid.NewString(), "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, ожидается 403", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListPortfolios_InvalidUserID(t *testing.T) {
	mock, h := newTestRouter(t, fixedUser(newClient()), false)

	rec := doRequest(h, http.MethodGet, "/api/portfolios?user_id=not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, ожидается 400", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreatePortfolio_DefaultGlobals(t *testing.T) {
	user := newClient()
	mock, h := newTestRouter(t, fixedUser(user), false)
	created := portfolioFor(user.ID)
	created.IsPrimary = false

	expectScoped(mock)
	mock.ExpectQuery("INSERT INTO portfolios").
		WithArgs(user.ID, model.DefaultPortfolioName, pgxmock.AnyArg(), 2024, false).
		WillReturnRows(portfolioRows(t, mock, created))
	mock.ExpectCommit()

	rec := doRequest(h, http.MethodPost, "/api/portfolios", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp openapi.PortfolioResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Portfolio.Globals != model.DefaultGlobals() {
		t.Errorf("globals = %+v, ожидаются значения по умолчанию", resp.Portfolio.Globals)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreatePortfolio_InvalidBody(t *testing.T) {
	mock, h := newTestRouter(t, fixedUser(newClient()), false)

	tests := []struct {
		name string
		body string
	}{
		{"start_year вне диапазона", `{"start_year": 1200}`},
		{"имя слишком длинное", `{"name": "` + strings.Repeat("x", 201) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodPost, "/api/portfolios", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, ожидается 400", rec.Code)
			}
		})
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateProperty_MissingPropertyData(t *testing.T) {
	mock, h := newTestRouter(t, fixedUser(newClient()), false)

	rec := doRequest(h, http.MethodPost, "/api/properties", `{"portfolioId":"`+uuid.NewString()+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, ожидается 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "propertyData") {
		t.Errorf("body = %s, ожидается упоминание propertyData", rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("обращений к хранилищу быть не должно: %v", err)
	}
}

func TestCreateProperty_ForeignPortfolio(t *testing.T) {
	user := newClient()
	mock, h := newTestRouter(t, fixedUser(user), false)
	foreign := portfolioFor(uuid.New())

	mock.ExpectQuery("FROM portfolios WHERE id").
		WithArgs(foreign.ID).
		WillReturnRows(portfolioRows(t, mock, foreign))

	body := `{"portfolioId":"` + foreign.ID.String() + `","propertyData":{"name":"Flat"}}`
	rec := doRequest(h, http.MethodPost, "/api/properties", body)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, ожидается 403", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateProperty_Created(t *testing.T) {
	user := newClient()
	mock, h := newTestRouter(t, fixedUser(user), false)
	own := portfolioFor(user.ID)
	propertyID := uuid.New()

	mock.ExpectQuery("FROM portfolios WHERE id").
		WithArgs(own.ID).
		WillReturnRows(portfolioRows(t, mock, own))
	mock.ExpectQuery("INSERT INTO properties").
		WithArgs(own.ID, pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows([]string{"id", "portfolio_id", "data", "created_at"}).
			AddRow(propertyID, own.ID, []byte(`{"name":"Flat"}`), time.Now()))

	body := `{"portfolioId":"` + own.ID.String() + `","propertyData":{"name":"Flat"}}`
	rec := doRequest(h, http.MethodPost, "/api/properties", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp openapi.PropertyResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Property.ID != propertyID || resp.Property.Data["name"] != "Flat" {
		t.Errorf("property = %+v", resp.Property)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStorageError_Redaction(t *testing.T) {
	tests := []struct {
		name     string
		expose   bool
		wantBody string
	}{
		{"production", false, `"internal error"`},
		{"development", true, "connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := newClient()
			mock, h := newTestRouter(t, fixedUser(user), tt.expose)

			mock.ExpectQuery("LIMIT 1").WithArgs(user.ID).
				WillReturnError(errors.New("dial tcp 10.0.0.5:5432: connection refused"))

			rec := doRequest(h, http.MethodGet, "/api/me", "")
			if rec.Code != http.StatusInternalServerError {
				t.Errorf("status = %d, ожидается 500", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, ожидается %q", rec.Body.String(), tt.wantBody)
			}
			if !tt.expose && strings.Contains(rec.Body.String(), "10.0.0.5") {
				t.Errorf("адрес хранилища раскрыт: %s", rec.Body.String())
			}
		})
	}
}

func TestGetProjection(t *testing.T) {
	user := newClient()
	mock, h := newTestRouter(t, fixedUser(user), false)
	own := portfolioFor(user.ID)

	expectScoped(mock)
	mock.ExpectQuery("FROM portfolios WHERE id").WithArgs(own.ID).WillReturnRows(portfolioRows(t, mock, own))
	mock.ExpectCommit()
	expectScoped(mock)
	mock.ExpectQuery("FROM properties").WithArgs(own.ID).
		WillReturnRows(mock.NewRows([]string{"id", "portfolio_id", "data", "created_at"}).
			AddRow(uuid.New(), own.ID, []byte(`{"annualRent":"60,000","annualExpenses":10000,"currentValue":1500000}`), time.Now()))
	mock.ExpectCommit()

	rec := doRequest(h, http.MethodGet, "/api/portfolios/"+own.ID.String()+"/projection?years=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp openapi.ProjectionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	p := resp.Projection
	if len(p.Years) != 2 || p.PropertyCount != 1 {
		t.Fatalf("projection = %+v", p)
	}
	if p.Years[0].Year != 2024 || p.Years[0].Rent != 60000 {
		t.Errorf("year[0] = %+v", p.Years[0])
	}
	if got := p.Years[0].Display["rent"]; got != "$60,000" {
		t.Errorf("display rent = %q, ожидается $60,000", got)
	}
	if got := p.Years[0].Display["portfolioValue"]; got != "$1.5M" {
		t.Errorf("display portfolioValue = %q, ожидается $1.5M", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetProjection_InvalidID(t *testing.T) {
	mock, h := newTestRouter(t, fixedUser(newClient()), false)

	rec := doRequest(h, http.MethodGet, "/api/portfolios/not-a-uuid/projection", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, ожидается 400", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
