//go:build integration

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testAccessKey = "minioadmin"
	testSecretKey = "minioadmin"
	testBucket    = "vitalpipe-test"
)

func setupMinIOStore(t *testing.T) *S3Store {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     testAccessKey,
			"MINIO_ROOT_PASSWORD": testSecretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	url := fmt.Sprintf("http://%s:%s", host, port.Port())

	require.NoError(t, createTestBucket(ctx, url))

	store, err := NewS3Store(ctx, S3Config{
		Bucket:    testBucket,
		Region:    "us-east-1",
		Endpoint:  url,
		AccessKey: testAccessKey,
		SecretKey: testSecretKey,
	})
	require.NoError(t, err)
	return store
}

func createTestBucket(ctx context.Context, url string) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(testAccessKey, testSecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: url, SigningRegion: region, HostnameImmutable: true}, nil
			})),
	)
	if err != nil {
		return err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) { o.UsePathStyle = true })
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(testBucket)})
	return err
}

func TestS3StorePutGetDeleteRoundTrips(t *testing.T) {
	store := setupMinIOStore(t)
	ctx := context.Background()

	content := []byte("<HealthData></HealthData>")
	n, err := store.Put(ctx, "batch-1", "export.xml", bytes.NewReader(content))
	require.NoError(t, err)
	require.EqualValues(t, len(content), n)

	rc, err := store.Get(ctx, "batch-1", "export.xml")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, content, got)

	require.NoError(t, store.Delete(ctx, "batch-1"))
	_, err = store.Get(ctx, "batch-1", "export.xml")
	require.Error(t, err)
}
