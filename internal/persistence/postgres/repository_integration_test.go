//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/tracking/internal/domain"
)

func TestRepositoryUpdatesLocationAndRecordsOutbox(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	repo := NewRepository(pool)

	deliveryID := uuid.NewString()
	_, err := pool.Exec(ctx, `INSERT INTO deliveries (delivery_id, transporter_id, status) VALUES ($1, $2, 'in_transit')`, deliveryID, "transporter-1")
	require.NoError(t, err)

	stored, err := repo.FindByID(ctx, deliveryID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "transporter-1", stored.TransporterID)
	require.Nil(t, stored.Position)

	at := time.Date(2024, time.January, 1, 0, 5, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateLocation(ctx, deliveryID, domain.Coordinates{Latitude: 10, Longitude: 106}, at))

	stored, err = repo.FindByID(ctx, deliveryID)
	require.NoError(t, err)
	require.Equal(t, &domain.Coordinates{Latitude: 10, Longitude: 106}, stored.Position)
	require.True(t, at.Equal(*stored.LocationUpdatedAt))

	var eventType, topic string
	err = pool.QueryRow(ctx, `SELECT event_type, topic FROM outbox WHERE aggregate_id = $1`, deliveryID).Scan(&eventType, &topic)
	require.NoError(t, err)
	require.Equal(t, EventDeliveryLocationUpdated, eventType)
	require.Equal(t, "delivery_locations", topic)
}

func TestRepositoryMissingDelivery(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupPostgres(t, ctx))

	missing, err := repo.FindByID(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, missing)

	err = repo.UpdateLocation(ctx, "missing", domain.Coordinates{}, time.Now().UTC())
	require.ErrorIs(t, err, domain.ErrDeliveryNotFound)
}

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("tracking"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
		postgrescontainer.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	contents, err := os.ReadFile(resolvePath(t, "../../../db/postgres/migrations/0001_init.up.sql"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(contents))
	require.NoError(t, err)
	return pool
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}
