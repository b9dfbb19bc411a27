package storage

import "context"

// Options names the knobs needed to build whichever ArchiveStore backend a
// deployment selects. It mirrors the storage-related fields of
// config.PipelineConfig without importing that package, so config can
// depend on storage rather than the other way around.
type Options struct {
	Backend string // "local" or "s3"

	LocalRoot string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// New builds the ArchiveStore named by opts.Backend.
func New(ctx context.Context, opts Options) (ArchiveStore, error) {
	switch opts.Backend {
	case "", "local":
		return NewLocalStore(opts.LocalRoot), nil
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:    opts.S3Bucket,
			Region:    opts.S3Region,
			Endpoint:  opts.S3Endpoint,
			AccessKey: opts.S3AccessKey,
			SecretKey: opts.S3SecretKey,
		})
	default:
		return nil, &unsupportedBackendError{opts.Backend}
	}
}

type unsupportedBackendError struct{ backend string }

func (e *unsupportedBackendError) Error() string {
	return "storage: unsupported backend " + e.backend
}
