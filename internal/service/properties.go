// properties.go — добавление объектов недвижимости в портфель.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/domain/rbac"
	"github.com/bigkaa/propfolio/internal/repository"
)

// PropertyService — операции с объектами недвижимости.
type PropertyService struct {
	store  *Store
	logger *slog.Logger
}

// NewPropertyService создаёт PropertyService.
func NewPropertyService(store *Store, logger *slog.Logger) *PropertyService {
	return &PropertyService{
		store:  store,
		logger: logger.With(slog.String("component", "property_service")),
	}
}

// CreateProperty добавляет объект в портфель.
//
// Портфель читается в elevated-режиме, чтобы отличить «не найден» от «чужой».
// Пользователь должен владеть портфелем (или быть admin), сервисный аккаунт —
// иметь scope properties:write. Вставка выполняется в elevated-режиме.
func (s *PropertyService) CreateProperty(
	ctx context.Context, principal *model.AuthenticatedUser, portfolioID uuid.UUID, data model.PropertyData,
) (*model.Property, error) {
	if portfolioID == uuid.Nil {
		return nil, validationf("portfolioId обязателен")
	}
	if data == nil {
		return nil, validationf("propertyData обязателен")
	}
	if principal == nil {
		return nil, ErrForbidden
	}

	var portfolio *model.Portfolio
	err := s.store.Elevated(ctx, "portfolios.get", func(ctx context.Context, db repository.DBTX) error {
		var err error
		portfolio, err = repository.NewPortfolioRepository(db).GetByID(ctx, portfolioID)
		return err
	}, slog.String("portfolio_id", portfolioID.String()))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("портфель %s: %w", portfolioID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if !canWriteProperty(principal, portfolio) {
		s.logger.Warn("Отказ в добавлении объекта",
			slog.String("subject", principal.Subject),
			slog.String("portfolio_id", portfolioID.String()),
		)
		return nil, ErrForbidden
	}

	var created *model.Property
	err = s.store.Elevated(ctx, "properties.create", func(ctx context.Context, db repository.DBTX) error {
		var err error
		created, err = repository.NewPropertyRepository(db).Create(ctx, portfolioID, data)
		return err
	}, slog.String("portfolio_id", portfolioID.String()))
	if errors.Is(err, repository.ErrForeignKey) {
		// Портфель удалён между проверкой и вставкой
		return nil, fmt.Errorf("портфель %s: %w", portfolioID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Объект добавлен",
		slog.String("property_id", created.ID.String()),
		slog.String("portfolio_id", portfolioID.String()),
	)
	return created, nil
}

func canWriteProperty(principal *model.AuthenticatedUser, portfolio *model.Portfolio) bool {
	if principal.IsServiceAccount() {
		return principal.HasScope(rbac.ScopePropertiesWrite)
	}
	return rbac.CanAccessPortfolio(principal, portfolio.UserID)
}
