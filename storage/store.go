// Package storage persists the archives an ingestion run consumes — the
// uploaded zip or XML file and, where useful, the extracted export.xml —
// keyed by batch id so a batch can be re-fetched or reprocessed after the
// originating upload is gone.
//
// Two backends implement the same ArchiveStore interface: a local
// filesystem store rooted at a configured directory, and an S3-compatible
// store built on aws-sdk-go-v2's upload/download managers. Which one is
// active is a config decision (see the config package); pipeline code only
// ever sees the interface.
package storage

import (
	"context"
	"io"
)

// ArchiveStore persists and retrieves the bytes belonging to one batch.
// Implementations must be safe for concurrent use by multiple batches at
// once; a single batch is only ever written by one goroutine.
type ArchiveStore interface {
	// Put streams r to the store under batchID/name, returning the number
	// of bytes written.
	Put(ctx context.Context, batchID, name string, r io.Reader) (int64, error)

	// Get opens a previously-stored object for reading. Callers must
	// close the returned ReadCloser.
	Get(ctx context.Context, batchID, name string) (io.ReadCloser, error)

	// Delete removes every object stored under batchID, if any exist.
	Delete(ctx context.Context, batchID string) error
}

// ErrNotFound is returned by Get when batchID/name has no stored object.
type ErrNotFound struct {
	BatchID string
	Name    string
}

func (e *ErrNotFound) Error() string {
	return "storage: no object " + e.Name + " for batch " + e.BatchID
}
