package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"vitalpipe.dev/archive"
	"vitalpipe.dev/batchstate"
	"vitalpipe.dev/common"
	"vitalpipe.dev/ingesterr"
	"vitalpipe.dev/pipeline"
)

var (
	ingestOwnerID int
	ingestExt     string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "validate and land one exported health-data archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestOwnerID, "owner-id", 0, "owning user id (required)")
	ingestCmd.Flags().StringVar(&ingestExt, "ext", "", `declared input extension ("xml" or "zip"); inferred from the path if omitted`)
	ingestCmd.MarkFlagRequired("owner-id")
}

// inferExt returns declared if set, otherwise path's extension without its
// leading dot.
func inferExt(path, declared string) string {
	if declared != "" {
		return declared
	}
	ext := filepath.Ext(path)
	if len(ext) > 0 && ext[0] == '.' {
		ext = ext[1:]
	}
	return ext
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	ext := inferExt(path, ingestExt)

	ctx := context.Background()

	d, err := connect(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	manager := batchstate.New(d.gdb)
	batch, err := manager.CreateBatch(ctx, ingestOwnerID, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("creating batch record: %w", err)
	}
	log := common.Logger.WithField("batch_id", batch.ID)

	if archived, archErr := archiveOriginal(ctx, d, batch.ID, filepath.Base(path), path); archErr != nil {
		log.WithError(archErr).Warn("failed to persist a copy of the uploaded archive")
	} else if archived {
		log.Info("persisted a copy of the uploaded archive")
	}

	candidate, err := archive.Validate(path, ext, d.cfg.MaxUploadBytes)
	if err != nil {
		if ferr := manager.Fail(ctx, batch.ID, 0, err.Error()); ferr != nil {
			log.WithError(ferr).Warn("failed to record batch failure")
		}
		return fmt.Errorf("validating %s: %w", path, err)
	}
	defer candidate.Reader.Close()

	// SIGINT/SIGTERM request cancellation through the same "cancelling"
	// status an external caller would write to the batch row; the
	// pipeline's progress monitor is already polling for that status, so
	// a local interrupt and a remote cancel request take the exact same
	// path through pipeline.Run.
	var finished atomic.Bool
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCtx.Done()
		if !finished.Load() {
			_ = manager.RequestCancel(context.Background(), batch.ID)
		}
	}()

	out, runErr := pipeline.Run(ctx, d.cfg.PipelineOptions(), d.gdb, d.pool, ingestOwnerID, batch.ID, candidate)
	finished.Store(true)
	stopSignals()

	switch {
	case ingesterr.Is(runErr, ingesterr.CancelledByUser):
		if err := manager.Cancel(ctx, batch.ID, out.RecordCount); err != nil {
			return fmt.Errorf("recording cancellation: %w", err)
		}
		log.Info("batch cancelled")
		return nil
	case runErr != nil:
		if err := manager.Fail(ctx, batch.ID, out.RecordCount, runErr.Error()); err != nil {
			log.WithError(err).Warn("failed to record batch failure")
		}
		return fmt.Errorf("ingesting %s: %w", path, runErr)
	default:
		if err := manager.Complete(ctx, batch.ID, out.RecordCount, out.ErrorCount, out.SkippedCount); err != nil {
			return fmt.Errorf("recording completion: %w", err)
		}
		log.WithField("record_count", out.RecordCount).
			WithField("skipped_count", out.SkippedCount).
			WithField("error_count", out.ErrorCount).
			Info("batch completed")
		return nil
	}
}

// archiveOriginal persists a copy of the raw upload to the configured
// ArchiveStore so a later reprocess can replay the batch without the
// original upload path still being available. It returns false and the
// error when the source file can't be read or stored; runIngest logs that
// and carries on rather than failing the whole ingest.
func archiveOriginal(ctx context.Context, d *deps, batchID, name, path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := d.store.Put(ctx, batchID, name, f); err != nil {
		return false, err
	}
	return true, nil
}
