//go:build integration

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const sampleExport = `<?xml version="1.0" encoding="UTF-8"?>
<HealthData>
  <Record type="HKQuantityTypeIdentifierStepCount" sourceName="iPhone" sourceVersion="17.0"
    startDate="2024-01-02 08:00:00 +0000" endDate="2024-01-02 08:01:00 +0000" value="120" unit="count"/>
</HealthData>`

func setupCLIDatabase(t *testing.T) string {
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
	return fmt.Sprintf("host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable", host, port.Port())
}

func TestRunIngestLandsArchiveAndCompletesBatch(t *testing.T) {
	dsn := setupCLIDatabase(t)

	viper.Reset()
	viper.Set("database.dsn", dsn)
	viper.Set("archive.root", t.TempDir())
	viper.Set("storage.backend", "local")

	dir := t.TempDir()
	path := filepath.Join(dir, "export.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleExport), 0o644))

	ingestOwnerID = 1
	ingestExt = ""
	require.NoError(t, runIngest(ingestCmd, []string{path}))
}
