package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/propfolio/internal/domain/model"
)

// PortfolioRepository — интерфейс для таблицы portfolios.
type PortfolioRepository interface {
	// Create создаёт портфель без проверки существующих.
	Create(ctx context.Context, np *model.NewPortfolio) (*model.Portfolio, error)
	// CreatePrimaryIfAbsent создаёт основной портфель, если у пользователя его нет.
	// Если основной портфель уже создан (в том числе параллельным запросом) — ErrConflict.
	CreatePrimaryIfAbsent(ctx context.Context, np *model.NewPortfolio) (*model.Portfolio, error)
	// GetByID возвращает портфель по ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Portfolio, error)
	// ListByUser возвращает портфели пользователя, новые первыми.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Portfolio, error)
	// LatestByUser возвращает последний созданный портфель пользователя.
	LatestByUser(ctx context.Context, userID uuid.UUID) (*model.Portfolio, error)
	// DeleteByUser удаляет все портфели пользователя. Возвращает количество удалённых.
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// portfolioRepo — реализация PortfolioRepository.
type portfolioRepo struct {
	db DBTX
}

// NewPortfolioRepository создаёт репозиторий портфелей.
func NewPortfolioRepository(db DBTX) PortfolioRepository {
	return &portfolioRepo{db: db}
}

const portfolioColumns = `id, user_id, name, globals, start_year, is_primary, created_at`

func scanPortfolio(row pgx.Row) (*model.Portfolio, error) {
	p := &model.Portfolio{}
	var globals []byte
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &globals, &p.StartYear, &p.IsPrimary, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(globals, &p.Globals); err != nil {
		return nil, fmt.Errorf("некорректный globals портфеля %s: %w", p.ID, err)
	}
	return p, nil
}

func (r *portfolioRepo) Create(ctx context.Context, np *model.NewPortfolio) (*model.Portfolio, error) {
	globals, err := json.Marshal(np.Globals)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации globals: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO portfolios (user_id, name, globals, start_year, is_primary)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s`, portfolioColumns)

	p, err := scanPortfolio(r.db.QueryRow(ctx, query,
		np.UserID, np.Name, globals, np.StartYear, np.IsPrimary,
	))
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return nil, ErrConflict
		case isForeignKeyViolation(err):
			return nil, ErrForeignKey
		}
		return nil, fmt.Errorf("ошибка создания портфеля: %w", err)
	}
	return p, nil
}

func (r *portfolioRepo) CreatePrimaryIfAbsent(ctx context.Context, np *model.NewPortfolio) (*model.Portfolio, error) {
	globals, err := json.Marshal(np.Globals)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации globals: %w", err)
	}

	// Уникальный частичный индекс uq_portfolios_primary разрешает гонку
	// параллельных вставок на стороне PostgreSQL.
	query := fmt.Sprintf(`
		INSERT INTO portfolios (user_id, name, globals, start_year, is_primary)
		VALUES ($1, $2, $3, $4, true)
		ON CONFLICT (user_id) WHERE is_primary DO NOTHING
		RETURNING %s`, portfolioColumns)

	p, err := scanPortfolio(r.db.QueryRow(ctx, query,
		np.UserID, np.Name, globals, np.StartYear,
	))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows), isUniqueViolation(err):
			return nil, ErrConflict
		case isForeignKeyViolation(err):
			return nil, ErrForeignKey
		}
		return nil, fmt.Errorf("ошибка создания основного портфеля: %w", err)
	}
	return p, nil
}

func (r *portfolioRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Portfolio, error) {
	query := fmt.Sprintf(`SELECT %s FROM portfolios WHERE id = $1`, portfolioColumns)

	p, err := scanPortfolio(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения портфеля: %w", err)
	}
	return p, nil
}

func (r *portfolioRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Portfolio, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM portfolios
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, portfolioColumns)

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка портфелей: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Portfolio, 0)
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования портфеля: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *portfolioRepo) LatestByUser(ctx context.Context, userID uuid.UUID) (*model.Portfolio, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM portfolios
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, portfolioColumns)

	p, err := scanPortfolio(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения последнего портфеля: %w", err)
	}
	return p, nil
}

func (r *portfolioRepo) DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM portfolios WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления портфелей: %w", err)
	}
	return tag.RowsAffected(), nil
}
