package service

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/repository"
)

var portfolioCols = []string{"id", "user_id", "name", "globals", "start_year", "is_primary", "created_at"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newMockStore создаёт Store поверх pgxmock.
func newMockStore(t *testing.T, timeout time.Duration) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewStore(repository.NewAccess(mock, "propfolio_client"), timeout, discardLogger())
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

func portfolioRows(t *testing.T, mock pgxmock.PgxPoolIface, portfolios ...*model.Portfolio) *pgxmock.Rows {
	t.Helper()
	rows := mock.NewRows(portfolioCols)
	for _, p := range portfolios {
		g, err := json.Marshal(p.Globals)
		require.NoError(t, err)
		rows.AddRow(p.ID, p.UserID, p.Name, g, p.StartYear, p.IsPrimary, p.CreatedAt)
	}
	return rows
}

func samplePortfolio(owner uuid.UUID) *model.Portfolio {
	g := model.DefaultGlobals()
	return &model.Portfolio{
		ID:        uuid.New(),
		UserID:    owner,
		Name:      model.DefaultPortfolioName,
		Globals:   g,
		StartYear: g.StartYear,
		IsPrimary: true,
		CreatedAt: time.Now(),
	}
}

// globalsArg проверяет JSON-аргумент globals.
type globalsArg struct {
	check func(g model.GlobalAssumptions) bool
}

func (a globalsArg) Match(v any) bool {
	raw, ok := v.([]byte)
	if !ok {
		return false
	}
	var g model.GlobalAssumptions
	if err := json.Unmarshal(raw, &g); err != nil {
		return false
	}
	return a.check(g)
}

func clientUser() *model.AuthenticatedUser {
	id := uuid.New()
	return &model.AuthenticatedUser{
		ID:          id,
		Subject:     id.String(),
		SubjectType: model.SubjectTypeUser,
		Email:       "client@example.com",
		Role:        "client",
	}
}

func adminUser() *model.AuthenticatedUser {
	u := clientUser()
	u.Email = "admin@example.com"
	u.Role = "admin"
	return u
}
