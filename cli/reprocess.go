package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"vitalpipe.dev/archive"
	"vitalpipe.dev/batchstate"
	"vitalpipe.dev/common"
	"vitalpipe.dev/ingesterr"
	"vitalpipe.dev/pipeline"
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <batch-id>",
	Short: "clear a batch's landed rows and replay it from its stored archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runReprocess,
}

func runReprocess(cmd *cobra.Command, args []string) error {
	batchID := args[0]
	ctx := context.Background()

	d, err := connect(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	manager := batchstate.New(d.gdb)
	batch, err := manager.Get(ctx, batchID)
	if err != nil {
		return fmt.Errorf("loading batch %s: %w", batchID, err)
	}

	archiveFile, err := d.store.Get(ctx, batchID, batch.Filename)
	if err != nil {
		return fmt.Errorf("fetching stored archive for batch %s: %w", batchID, err)
	}
	defer archiveFile.Close()

	tmp, err := os.CreateTemp("", "vitalpipe-reprocess-*"+filepath.Ext(batch.Filename))
	if err != nil {
		return fmt.Errorf("staging reprocess file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if _, err := tmp.ReadFrom(archiveFile); err != nil {
		return fmt.Errorf("staging reprocess file: %w", err)
	}

	candidate, err := archive.Validate(tmp.Name(), inferExt(batch.Filename, ""), d.cfg.MaxUploadBytes)
	if err != nil {
		return fmt.Errorf("validating stored archive for batch %s: %w", batchID, err)
	}
	defer candidate.Reader.Close()

	if err := manager.Reprocess(ctx, batchID); err != nil {
		return fmt.Errorf("clearing prior results for batch %s: %w", batchID, err)
	}

	log := common.Logger.WithField("batch_id", batchID)
	out, runErr := pipeline.Run(ctx, d.cfg.PipelineOptions(), d.gdb, d.pool, batch.OwnerID, batchID, candidate)

	switch {
	case ingesterr.Is(runErr, ingesterr.CancelledByUser):
		if err := manager.Cancel(ctx, batchID, out.RecordCount); err != nil {
			return fmt.Errorf("recording cancellation: %w", err)
		}
		log.Info("reprocess cancelled")
		return nil
	case runErr != nil:
		if err := manager.Fail(ctx, batchID, out.RecordCount, runErr.Error()); err != nil {
			log.WithError(err).Warn("failed to record batch failure")
		}
		return fmt.Errorf("reprocessing batch %s: %w", batchID, runErr)
	default:
		if err := manager.Complete(ctx, batchID, out.RecordCount, out.ErrorCount, out.SkippedCount); err != nil {
			return fmt.Errorf("recording completion: %w", err)
		}
		log.WithField("record_count", out.RecordCount).Info("reprocess completed")
		return nil
	}
}
