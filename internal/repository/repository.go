// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
//
// Два режима доступа:
//   - scoped: транзакция под ролью с RLS, субъект передаётся через set_config;
//   - elevated: пул под владельцем таблиц, RLS не применяется.
package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/propfolio/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrForeignKey — ссылка на несуществующую запись.
	ErrForeignKey = errors.New("нарушение внешнего ключа")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool — DBTX с поддержкой транзакций (*pgxpool.Pool или pgxmock).
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Access выбирает режим доступа к данным.
type Access struct {
	pool       Pool
	tx         *TxRunner
	scopedRole string
}

// NewAccess создаёт Access. scopedRole — роль PostgreSQL, к которой
// применяются политики RLS (PF_DB_SCOPED_ROLE).
func NewAccess(pool Pool, scopedRole string) *Access {
	return &Access{
		pool:       pool,
		tx:         NewTxRunner(pool),
		scopedRole: scopedRole,
	}
}

// Scoped выполняет fn в транзакции под scoped-ролью.
// Видимость строк определяется политиками RLS для субъекта user.
func (a *Access) Scoped(ctx context.Context, user *model.AuthenticatedUser, fn func(db DBTX) error) error {
	if user == nil {
		return errors.New("scoped-доступ без субъекта")
	}

	return a.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SET LOCAL ROLE "+pgx.Identifier{a.scopedRole}.Sanitize()); err != nil {
			return fmt.Errorf("ошибка переключения роли: %w", err)
		}

		userID := ""
		if user.ID != uuid.Nil {
			userID = user.ID.String()
		}
		if _, err := tx.Exec(ctx,
			`SELECT set_config('propfolio.user_id', $1, true), set_config('propfolio.user_role', $2, true)`,
			userID, user.Role,
		); err != nil {
			return fmt.Errorf("ошибка установки субъекта: %w", err)
		}

		return fn(tx)
	})
}

// Elevated выполняет fn под владельцем таблиц, RLS не применяется.
// Только для доверенных серверных путей: provisioning, вставка объекта
// после проверки владения, операторские команды.
func (a *Access) Elevated(_ context.Context, fn func(db DBTX) error) error {
	return fn(a.pool)
}

// ElevatedTx — как Elevated, но в транзакции.
func (a *Access) ElevatedTx(ctx context.Context, fn func(db DBTX) error) error {
	return a.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isForeignKeyViolation проверяет нарушение внешнего ключа.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

// IsUnavailable сообщает, вызвана ли ошибка недоступностью хранилища:
// истёк дедлайн, соединение не установлено или оборвано.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Класс 08 — connection exception, 57P0x — остановка сервера
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}
	return false
}
