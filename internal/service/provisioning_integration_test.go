package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/propfolio/internal/database"
	"github.com/bigkaa/propfolio/internal/database/dbtest"
	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/repository"
	"github.com/bigkaa/propfolio/internal/service"
)

func TestIntegration_EnsureUserHasPortfolio_Concurrent(t *testing.T) {
	pool, _ := dbtest.Pool(t)
	logger := dbtest.Logger()

	store := service.NewStore(repository.NewAccess(pool, database.ScopedRole), 5*time.Second, logger)
	users := service.NewUserDirectory(store, 16, time.Minute, logger)
	provisioner := service.NewProvisioner(store, logger)
	portfolios := service.NewPortfolioService(store, logger)

	ctx := context.Background()
	userID := uuid.New()
	_, err := users.Resolve(ctx, userID, "race@example.com")
	require.NoError(t, err)

	const workers = 20
	ids := make([]uuid.UUID, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			p, err := provisioner.EnsureUserHasPortfolio(ctx, userID)
			errs[i] = err
			if p != nil {
				ids[i] = p.ID
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i], "все вызовы должны вернуть один портфель")
	}

	user := &model.AuthenticatedUser{ID: userID, Subject: userID.String(), Role: "client"}
	list, err := portfolios.ListPortfolios(ctx, user, uuid.Nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsPrimary)
	assert.Equal(t, model.DefaultGlobals(), list[0].Globals)
}

func TestIntegration_EnsureUserHasPortfolio_NotMirrored(t *testing.T) {
	pool, _ := dbtest.Pool(t)
	logger := dbtest.Logger()

	store := service.NewStore(repository.NewAccess(pool, database.ScopedRole), 5*time.Second, logger)
	provisioner := service.NewProvisioner(store, logger)

	_, err := provisioner.EnsureUserHasPortfolio(context.Background(), uuid.New())
	assert.ErrorIs(t, err, service.ErrInvalidUser)
}
