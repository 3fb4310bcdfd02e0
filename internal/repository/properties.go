package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/propfolio/internal/domain/model"
)

// PropertyRepository — интерфейс для таблицы properties.
type PropertyRepository interface {
	// Create добавляет объект в портфель.
	// Несуществующий портфель — ErrForeignKey.
	Create(ctx context.Context, portfolioID uuid.UUID, data model.PropertyData) (*model.Property, error)
	// ListByPortfolio возвращает объекты портфеля в порядке создания.
	ListByPortfolio(ctx context.Context, portfolioID uuid.UUID) ([]*model.Property, error)
}

// propertyRepo — реализация PropertyRepository.
type propertyRepo struct {
	db DBTX
}

// NewPropertyRepository создаёт репозиторий объектов недвижимости.
func NewPropertyRepository(db DBTX) PropertyRepository {
	return &propertyRepo{db: db}
}

const propertyColumns = `id, portfolio_id, data, created_at`

func scanProperty(row pgx.Row) (*model.Property, error) {
	p := &model.Property{}
	var data []byte
	if err := row.Scan(&p.ID, &p.PortfolioID, &data, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &p.Data); err != nil {
		return nil, fmt.Errorf("некорректные данные объекта %s: %w", p.ID, err)
	}
	return p, nil
}

func (r *propertyRepo) Create(ctx context.Context, portfolioID uuid.UUID, data model.PropertyData) (*model.Property, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации данных объекта: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO properties (portfolio_id, data)
		VALUES ($1, $2)
		RETURNING %s`, propertyColumns)

	p, err := scanProperty(r.db.QueryRow(ctx, query, portfolioID, raw))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrForeignKey
		}
		return nil, fmt.Errorf("ошибка создания объекта: %w", err)
	}
	return p, nil
}

func (r *propertyRepo) ListByPortfolio(ctx context.Context, portfolioID uuid.UUID) ([]*model.Property, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM properties
		WHERE portfolio_id = $1
		ORDER BY created_at, id`, propertyColumns)

	rows, err := r.db.Query(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка объектов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Property, 0)
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования объекта: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
