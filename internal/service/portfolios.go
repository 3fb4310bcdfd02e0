// portfolios.go — операции с портфелями от имени пользователя.
// Все чтения и записи проходят через rbac.CanAccessPortfolio
// и выполняются в scoped-режиме (RLS).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/domain/rbac"
	"github.com/bigkaa/propfolio/internal/repository"
)

// PortfolioService — операции с портфелями.
type PortfolioService struct {
	store  *Store
	logger *slog.Logger
}

// NewPortfolioService создаёт PortfolioService.
func NewPortfolioService(store *Store, logger *slog.Logger) *PortfolioService {
	return &PortfolioService{
		store:  store,
		logger: logger.With(slog.String("component", "portfolio_service")),
	}
}

// CreatePortfolioInput — параметры создания портфеля.
// nil-поля заменяются значениями по умолчанию.
type CreatePortfolioInput struct {
	Name      *string
	Globals   *model.GlobalsPatch
	StartYear *int
}

// ListPortfolios возвращает портфели владельца, новые первыми.
// ownerID == uuid.Nil означает «свои».
func (s *PortfolioService) ListPortfolios(ctx context.Context, user *model.AuthenticatedUser, ownerID uuid.UUID) ([]*model.Portfolio, error) {
	if user == nil {
		return nil, ErrForbidden
	}
	if ownerID == uuid.Nil {
		ownerID = user.ID
	}
	if !rbac.CanAccessPortfolio(user, ownerID) {
		return nil, ErrForbidden
	}

	var list []*model.Portfolio
	err := s.store.Scoped(ctx, user, "portfolios.list", func(ctx context.Context, db repository.DBTX) error {
		var err error
		list, err = repository.NewPortfolioRepository(db).ListByUser(ctx, ownerID)
		return err
	}, slog.String("owner_id", ownerID.String()))
	if err != nil {
		return nil, err
	}
	return list, nil
}

// CreatePortfolio создаёт портфель владельцу ownerID.
// Допущения объединяются с допущениями по умолчанию по полям,
// StartYear по умолчанию берётся из globals.startYear.
func (s *PortfolioService) CreatePortfolio(
	ctx context.Context, user *model.AuthenticatedUser, ownerID uuid.UUID, in CreatePortfolioInput,
) (*model.Portfolio, error) {
	if ownerID == uuid.Nil {
		return nil, validationf("не указан владелец портфеля")
	}
	if !rbac.CanAccessPortfolio(user, ownerID) {
		return nil, ErrForbidden
	}

	np := &model.NewPortfolio{
		UserID:  ownerID,
		Name:    model.DefaultPortfolioName,
		Globals: model.MergeGlobals(model.DefaultGlobals(), in.Globals),
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) != "" {
		np.Name = strings.TrimSpace(*in.Name)
	}
	np.StartYear = np.Globals.StartYear
	if in.StartYear != nil {
		np.StartYear = *in.StartYear
	}

	var created *model.Portfolio
	err := s.store.Scoped(ctx, user, "portfolios.create", func(ctx context.Context, db repository.DBTX) error {
		var err error
		created, err = repository.NewPortfolioRepository(db).Create(ctx, np)
		return err
	}, slog.String("owner_id", ownerID.String()))
	if errors.Is(err, repository.ErrForeignKey) {
		return nil, fmt.Errorf("владелец %s не зеркалирован: %w", ownerID, ErrInvalidUser)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Портфель создан",
		slog.String("portfolio_id", created.ID.String()),
		slog.String("owner_id", ownerID.String()),
	)
	return created, nil
}

// GetPortfolio возвращает портфель, если у пользователя есть к нему доступ.
// Чужой портфель для клиента не виден (RLS) и даёт ErrNotFound.
func (s *PortfolioService) GetPortfolio(ctx context.Context, user *model.AuthenticatedUser, id uuid.UUID) (*model.Portfolio, error) {
	var portfolio *model.Portfolio
	err := s.store.Scoped(ctx, user, "portfolios.get", func(ctx context.Context, db repository.DBTX) error {
		var err error
		portfolio, err = repository.NewPortfolioRepository(db).GetByID(ctx, id)
		return err
	}, slog.String("portfolio_id", id.String()))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("портфель %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !rbac.CanAccessPortfolio(user, portfolio.UserID) {
		return nil, ErrForbidden
	}
	return portfolio, nil
}

// ListProperties возвращает объекты портфеля.
func (s *PortfolioService) ListProperties(ctx context.Context, user *model.AuthenticatedUser, portfolioID uuid.UUID) ([]*model.Property, error) {
	portfolio, err := s.GetPortfolio(ctx, user, portfolioID)
	if err != nil {
		return nil, err
	}
	return s.propertiesOf(ctx, user, portfolio)
}

// propertiesOf читает объекты портфеля, доступ к которому уже проверен.
func (s *PortfolioService) propertiesOf(ctx context.Context, user *model.AuthenticatedUser, portfolio *model.Portfolio) ([]*model.Property, error) {
	var list []*model.Property
	err := s.store.Scoped(ctx, user, "properties.list", func(ctx context.Context, db repository.DBTX) error {
		var err error
		list, err = repository.NewPropertyRepository(db).ListByPortfolio(ctx, portfolio.ID)
		return err
	}, slog.String("portfolio_id", portfolio.ID.String()))
	return list, err
}
