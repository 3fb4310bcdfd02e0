// provisioning.go — создание основного портфеля при первом обращении.
//
// Гонка параллельных запросов одного пользователя разрешается уникальным
// частичным индексом uq_portfolios_primary: проигравший INSERT ничего
// не вставляет, после чего победитель перечитывается с ретраями.
// Блокировок в процессе нет — экземпляров сервиса может быть несколько.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sethvargo/go-retry"

	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/repository"
)

// Исходы EnsureUserHasPortfolio для метрики.
const (
	outcomeExisting = "existing"
	outcomeCreated  = "created"
	outcomeRaceLost = "race_lost"
)

var provisioningTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pf_provisioning_total",
	Help: "Количество вызовов EnsureUserHasPortfolio по исходу.",
}, []string{"outcome"})

// Параметры перечитывания победителя гонки.
const (
	defaultRereadRetries = 5
	defaultRereadBackoff = 20 * time.Millisecond
)

// Provisioner создаёт портфели по умолчанию.
type Provisioner struct {
	store         *Store
	rereadRetries uint64
	rereadBackoff time.Duration
	logger        *slog.Logger
}

// NewProvisioner создаёт Provisioner.
func NewProvisioner(store *Store, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		store:         store,
		rereadRetries: defaultRereadRetries,
		rereadBackoff: defaultRereadBackoff,
		logger:        logger.With(slog.String("component", "provisioner")),
	}
}

// defaultPortfolio — параметры портфеля по умолчанию.
func defaultPortfolio(userID uuid.UUID, primary bool) *model.NewPortfolio {
	g := model.DefaultGlobals()
	return &model.NewPortfolio{
		UserID:    userID,
		Name:      model.DefaultPortfolioName,
		Globals:   g,
		StartYear: g.StartYear,
		IsPrimary: primary,
	}
}

// EnsureUserHasPortfolio возвращает последний созданный портфель пользователя,
// а если портфелей нет — создаёт основной с допущениями по умолчанию.
// Параллельные вызовы для одного пользователя возвращают один и тот же портфель.
func (p *Provisioner) EnsureUserHasPortfolio(ctx context.Context, userID uuid.UUID) (*model.Portfolio, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidUser
	}

	existing, err := p.latest(ctx, userID)
	switch {
	case err == nil:
		provisioningTotal.WithLabelValues(outcomeExisting).Inc()
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	created, err := p.createPrimary(ctx, userID)
	switch {
	case err == nil:
		provisioningTotal.WithLabelValues(outcomeCreated).Inc()
		p.logger.Info("Создан основной портфель",
			slog.String("user_id", userID.String()),
			slog.String("portfolio_id", created.ID.String()),
		)
		return created, nil
	case errors.Is(err, ErrConstraintViolation):
		provisioningTotal.WithLabelValues(outcomeRaceLost).Inc()
		return p.rereadWinner(ctx, userID)
	default:
		return nil, err
	}
}

// CreateDefaultPortfolio создаёт портфель по умолчанию без проверки существующих.
// Только для операторских команд.
func (p *Provisioner) CreateDefaultPortfolio(ctx context.Context, userID uuid.UUID) (*model.Portfolio, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidUser
	}

	var created *model.Portfolio
	err := p.store.Elevated(ctx, "portfolios.create_default", func(ctx context.Context, db repository.DBTX) error {
		var err error
		created, err = repository.NewPortfolioRepository(db).Create(ctx, defaultPortfolio(userID, false))
		return err
	}, slog.String("user_id", userID.String()))
	if errors.Is(err, repository.ErrForeignKey) {
		return nil, fmt.Errorf("пользователь %s не зеркалирован: %w", userID, ErrInvalidUser)
	}
	return created, err
}

func (p *Provisioner) latest(ctx context.Context, userID uuid.UUID) (*model.Portfolio, error) {
	var portfolio *model.Portfolio
	err := p.store.Elevated(ctx, "portfolios.latest", func(ctx context.Context, db repository.DBTX) error {
		var err error
		portfolio, err = repository.NewPortfolioRepository(db).LatestByUser(ctx, userID)
		return err
	}, slog.String("user_id", userID.String()))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return portfolio, err
}

func (p *Provisioner) createPrimary(ctx context.Context, userID uuid.UUID) (*model.Portfolio, error) {
	var created *model.Portfolio
	err := p.store.Elevated(ctx, "portfolios.create_primary", func(ctx context.Context, db repository.DBTX) error {
		var err error
		created, err = repository.NewPortfolioRepository(db).CreatePrimaryIfAbsent(ctx, defaultPortfolio(userID, true))
		return err
	}, slog.String("user_id", userID.String()))
	switch {
	case errors.Is(err, repository.ErrConflict):
		return nil, ErrConstraintViolation
	case errors.Is(err, repository.ErrForeignKey):
		return nil, fmt.Errorf("пользователь %s не зеркалирован: %w", userID, ErrInvalidUser)
	}
	return created, err
}

// rereadWinner читает портфель, созданный параллельным запросом.
func (p *Provisioner) rereadWinner(ctx context.Context, userID uuid.UUID) (*model.Portfolio, error) {
	var winner *model.Portfolio
	backoff := retry.WithMaxRetries(p.rereadRetries, retry.NewExponential(p.rereadBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		portfolio, err := p.latest(ctx, userID)
		if errors.Is(err, ErrNotFound) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		winner = portfolio
		return nil
	})
	if err != nil {
		p.logger.Warn("Не удалось перечитать портфель после гонки",
			slog.String("user_id", userID.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	p.logger.Debug("Гонка создания портфеля проиграна, возвращён существующий",
		slog.String("user_id", userID.String()),
		slog.String("portfolio_id", winner.ID.String()),
	)
	return winner, nil
}
