//go:build integration

package sources

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"vitalpipe.dev/dbmodel"
)

func setupPostgresPool(t *testing.T) *pgxpool.Pool {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable", host, port.Port())

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, dbmodel.AutoMigrate(gdb))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestRegistryResolveCreatesAndCaches(t *testing.T) {
	pool := setupPostgresPool(t)
	r := New(pool)
	require.NoError(t, r.Warm(context.Background()))

	id1, ok, err := r.Resolve(context.Background(), "iPhone", "17.1", "iPhone 15 Pro")
	require.NoError(t, err)
	require.True(t, ok)

	id2, ok, err := r.Resolve(context.Background(), "iPhone", "17.1", "iPhone 15 Pro")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id1, id2, "second resolve for the same key must hit cache/dedupe to the same id")
}

func TestRegistryWarmSeesExistingRows(t *testing.T) {
	pool := setupPostgresPool(t)
	r := New(pool)
	require.NoError(t, r.Warm(context.Background()))

	id, ok, err := r.Resolve(context.Background(), "Watch", "", "")
	require.NoError(t, err)
	require.True(t, ok)

	r2 := New(pool)
	require.NoError(t, r2.Warm(context.Background()))
	id2, ok, err := r2.Resolve(context.Background(), "Watch", "", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, id2)
}
