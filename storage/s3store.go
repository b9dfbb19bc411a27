// S3Store backs ArchiveStore with an S3-compatible bucket, for deployments
// that want archive durability across process restarts rather than local
// disk. It is built on aws-sdk-go-v2's upload/download managers, the same
// pattern the pack's Hetzner/MinIO helpers use for bulk transfer, narrowed
// here to the single-object Put/Get/Delete this store needs.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store persists archives as objects named batchID/name in Bucket.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// S3Config names the endpoint, credentials, and bucket an S3Store talks to.
// Endpoint and the static credentials are optional: leaving them empty
// falls back to the AWS SDK's default credential chain and region
// resolution, which is what a deployment against real AWS S3 wants; a
// non-empty Endpoint is how an S3-compatible backend (Hetzner, MinIO)
// is addressed instead.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Store builds an S3Store from cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: cfg.Endpoint, SigningRegion: region, HostnameImmutable: true}, nil
			})))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, uploader: manager.NewUploader(client), bucket: cfg.Bucket}, nil
}

func objectKey(batchID, name string) string {
	return batchID + "/" + name
}

// Put uploads r as batchID/name, using multipart upload transparently for
// large archives.
func (s *S3Store) Put(ctx context.Context, batchID, name string, r io.Reader) (int64, error) {
	counter := &countingReader{r: r}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(batchID, name)),
		Body:   counter,
	})
	if err != nil {
		return counter.n, fmt.Errorf("uploading %s/%s to bucket %s: %w", batchID, name, s.bucket, err)
	}
	return counter.n, nil
}

// Get downloads batchID/name into a temp file and returns a handle that
// deletes the file on Close, so callers get an ordinary io.ReadCloser
// without the whole object ever sitting in memory.
func (s *S3Store) Get(ctx context.Context, batchID, name string) (io.ReadCloser, error) {
	tmp, err := os.CreateTemp("", "vitalpipe-archive-*")
	if err != nil {
		return nil, fmt.Errorf("creating download buffer: %w", err)
	}

	downloader := manager.NewDownloader(s.client)
	_, err = downloader.Download(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(batchID, name)),
	})
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("downloading %s/%s from bucket %s: %w", batchID, name, s.bucket, err)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("rewinding downloaded %s/%s: %w", batchID, name, err)
	}
	return &selfDeletingFile{File: tmp}, nil
}

// Delete removes every object under the batchID/ prefix.
func (s *S3Store) Delete(ctx context.Context, batchID string) error {
	prefix := batchID + "/"
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return fmt.Errorf("listing objects under %s: %w", prefix, err)
	}
	for _, obj := range out.Contents {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    obj.Key,
		}); err != nil {
			return fmt.Errorf("deleting %s: %w", aws.ToString(obj.Key), err)
		}
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type selfDeletingFile struct {
	*os.File
}

func (f *selfDeletingFile) Close() error {
	err := f.File.Close()
	os.Remove(f.File.Name())
	return err
}
