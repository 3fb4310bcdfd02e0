package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/repository"
)

// Store — точка входа сервисов в хранилище.
// Каждое обращение выполняется с таймаутом, ошибки PostgreSQL
// оборачиваются в StorageError с именем операции.
type Store struct {
	access  *repository.Access
	timeout time.Duration
	logger  *slog.Logger
}

// NewStore создаёт Store. timeout — PF_STORAGE_TIMEOUT.
func NewStore(access *repository.Access, timeout time.Duration, logger *slog.Logger) *Store {
	return &Store{
		access:  access,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "store")),
	}
}

// Scoped — обращение от имени пользователя, RLS применяется.
func (s *Store) Scoped(ctx context.Context, user *model.AuthenticatedUser, op string,
	fn func(ctx context.Context, db repository.DBTX) error, attrs ...slog.Attr,
) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.access.Scoped(ctx, user, func(db repository.DBTX) error {
		return fn(ctx, db)
	})
	return s.classify(op, err, attrs)
}

// Elevated — обращение под владельцем таблиц, RLS не применяется.
func (s *Store) Elevated(ctx context.Context, op string,
	fn func(ctx context.Context, db repository.DBTX) error, attrs ...slog.Attr,
) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.access.Elevated(ctx, func(db repository.DBTX) error {
		return fn(ctx, db)
	})
	return s.classify(op, err, attrs)
}

// ElevatedTx — как Elevated, но в одной транзакции.
func (s *Store) ElevatedTx(ctx context.Context, op string,
	fn func(ctx context.Context, db repository.DBTX) error, attrs ...slog.Attr,
) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.access.ElevatedTx(ctx, func(db repository.DBTX) error {
		return fn(ctx, db)
	})
	return s.classify(op, err, attrs)
}

// classify пропускает ошибки репозитория и бизнес-логики как есть,
// остальные оборачивает в StorageError и логирует.
func (s *Store) classify(op string, err error, attrs []slog.Attr) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}

	serr := &StorageError{Op: op, Err: err, Unavailable: repository.IsUnavailable(err)}

	args := make([]any, 0, len(attrs)+3)
	args = append(args,
		slog.String("op", op),
		slog.Bool("unavailable", serr.Unavailable),
		slog.String("error", err.Error()),
	)
	for _, a := range attrs {
		args = append(args, a)
	}
	s.logger.Error("Ошибка обращения к хранилищу", args...)

	return serr
}

// isDomainError — ошибки, которые сервисы обрабатывают сами.
func isDomainError(err error) bool {
	for _, target := range []error{
		repository.ErrNotFound, repository.ErrConflict, repository.ErrForeignKey,
		ErrNotFound, ErrForbidden, ErrValidation, ErrInvalidUser,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var serr *StorageError
	return errors.As(err, &serr)
}
