// users.go — зеркало пользователей IdP и назначение ролей.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/domain/rbac"
	"github.com/bigkaa/propfolio/internal/repository"
)

// Prometheus-метрики кэша пользователей.
var (
	userCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pf_user_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш пользователей.",
	})
	userCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pf_user_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша пользователей.",
	})
)

// UserDirectory — зеркало пользователей IdP в таблице users.
// Результаты upsert кэшируются на TTL, чтобы обычные запросы
// не обращались к хранилищу.
type UserDirectory struct {
	store  *Store
	cache  *expirable.LRU[uuid.UUID, *model.User]
	logger *slog.Logger
}

// NewUserDirectory создаёт UserDirectory.
// cacheSize — максимальное количество записей, ttl — время жизни записи.
func NewUserDirectory(store *Store, cacheSize int, ttl time.Duration, logger *slog.Logger) *UserDirectory {
	return &UserDirectory{
		store:  store,
		cache:  expirable.NewLRU[uuid.UUID, *model.User](cacheSize, nil, ttl),
		logger: logger.With(slog.String("component", "user_directory")),
	}
}

// Resolve зеркалирует пользователя и возвращает сохранённую запись.
// Пустой email не затирает ранее сохранённый.
func (d *UserDirectory) Resolve(ctx context.Context, id uuid.UUID, email string) (*model.User, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidUser
	}

	if u, ok := d.cache.Get(id); ok && (email == "" || strings.EqualFold(u.Email, email)) {
		userCacheHitsTotal.Inc()
		return u, nil
	}
	userCacheMissesTotal.Inc()

	var user *model.User
	err := d.store.Elevated(ctx, "users.upsert", func(ctx context.Context, db repository.DBTX) error {
		var err error
		user, err = repository.NewUserRepository(db).Upsert(ctx, id, email)
		return err
	}, slog.String("user_id", id.String()))
	if err != nil {
		return nil, err
	}

	d.cache.Add(id, user)
	return user, nil
}

// Get возвращает пользователя из зеркала без создания.
func (d *UserDirectory) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user *model.User
	err := d.store.Elevated(ctx, "users.get", func(ctx context.Context, db repository.DBTX) error {
		var err error
		user, err = repository.NewUserRepository(db).GetByID(ctx, id)
		return err
	}, slog.String("user_id", id.String()))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("пользователь %s: %w", id, ErrNotFound)
	}
	return user, err
}

// FindByEmail ищет зеркалированных пользователей по email.
func (d *UserDirectory) FindByEmail(ctx context.Context, email string) ([]*model.User, error) {
	var users []*model.User
	err := d.store.Elevated(ctx, "users.find_by_email", func(ctx context.Context, db repository.DBTX) error {
		var err error
		users, err = repository.NewUserRepository(db).FindByEmail(ctx, email)
		return err
	}, slog.String("email", email))
	return users, err
}

// SetRole назначает роль пользователю. Запись сбрасывается только в кэше
// этого процесса: запущенные API-серверы увидят новую роль после
// истечения PF_USER_CACHE_TTL.
func (d *UserDirectory) SetRole(ctx context.Context, id uuid.UUID, role string) error {
	if !rbac.IsValidRole(role) {
		return ErrInvalidRole
	}

	err := d.store.Elevated(ctx, "users.set_role", func(ctx context.Context, db repository.DBTX) error {
		return repository.NewUserRepository(db).SetRole(ctx, id, role)
	}, slog.String("user_id", id.String()), slog.String("role", role))
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("пользователь %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}

	d.cache.Remove(id)
	d.logger.Info("Роль пользователя изменена",
		slog.String("user_id", id.String()),
		slog.String("role", role),
	)
	return nil
}

// Delete удаляет пользователя вместе с портфелями и объектами.
// Возвращает количество удалённых портфелей.
func (d *UserDirectory) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	var portfolios int64
	err := d.store.ElevatedTx(ctx, "users.delete", func(ctx context.Context, db repository.DBTX) error {
		var err error
		portfolios, err = repository.NewPortfolioRepository(db).DeleteByUser(ctx, id)
		if err != nil {
			return err
		}
		err = repository.NewUserRepository(db).Delete(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}, slog.String("user_id", id.String()))
	if err != nil {
		return 0, err
	}

	d.cache.Remove(id)
	return portfolios, nil
}
