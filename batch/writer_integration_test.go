//go:build integration

package batch

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

func setupPool(t *testing.T) *pgxpool.Pool {
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

func TestWriteIsIdempotent(t *testing.T) {
	pool := setupPool(t)
	w := NewWriter(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	payload := Payload{
		Samples: []dbmodel.HealthRecord{
			{Time: now, OwnerID: 1, MetricType: "StepCount", Value: 1234, Unit: "count"},
		},
		Workouts: []dbmodel.Workout{
			{ID: dbmodel.WorkoutID(1, now, "Running").String(), OwnerID: 1, Time: now, ActivityType: "Running"},
		},
	}

	stats1, err := w.Write(ctx, payload)
	require.NoError(t, err)
	require.Empty(t, stats1.SubFailures)
	require.Equal(t, 1, stats1.SamplesWritten)
	require.Equal(t, 1, stats1.WorkoutsWritten)

	stats2, err := w.Write(ctx, payload)
	require.NoError(t, err)
	require.Empty(t, stats2.SubFailures)
	require.Equal(t, 0, stats2.SamplesWritten, "rerun must dedupe via ON CONFLICT DO NOTHING")
	require.Equal(t, 0, stats2.WorkoutsWritten)
}
