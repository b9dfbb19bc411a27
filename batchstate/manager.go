// Package batchstate creates, finalises, and resets the ImportBatch row
// that represents one ingestion attempt. Unlike the in-memory operation
// tracker it is adapted from, state here must survive process restarts and
// be visible to whatever created the batch, so it is backed by the
// database rather than a process-local map.
package batchstate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vitalpipe.dev/dbmodel"
)

// Manager owns ImportBatch lifecycle transitions.
type Manager struct {
	db *gorm.DB
}

// New wraps a *gorm.DB.
func New(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// CreateBatch inserts a new ImportBatch row in "processing" state. This is
// normally the external upload handler's job (spec.md §4.8); the CLI (A2)
// performs it itself since the HTTP surface is out of scope here.
func (m *Manager) CreateBatch(ctx context.Context, ownerID int, filename string) (*dbmodel.ImportBatch, error) {
	b := &dbmodel.ImportBatch{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		Filename: filename,
		Status:   dbmodel.StatusProcessing,
	}
	if err := m.db.WithContext(ctx).Create(b).Error; err != nil {
		return nil, fmt.Errorf("create import batch: %w", err)
	}
	return b, nil
}

// Complete marks a batch completed with its final counts.
func (m *Manager) Complete(ctx context.Context, batchID string, recordCount, errorCount, skippedCount int) error {
	return m.db.WithContext(ctx).Model(&dbmodel.ImportBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"status":        dbmodel.StatusCompleted,
			"record_count":  recordCount,
			"error_count":   errorCount,
			"skipped_count": skippedCount,
		}).Error
}

// Cancel marks a batch cancelled with the count landed so far.
func (m *Manager) Cancel(ctx context.Context, batchID string, recordCount int) error {
	return m.db.WithContext(ctx).Model(&dbmodel.ImportBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"status":       dbmodel.StatusCancelled,
			"record_count": recordCount,
		}).Error
}

// Fail marks a batch failed, storing a diagnostic message. Per spec.md
// §4.8 this path never itself raises: a failure to write the failed status
// is logged by the caller, not returned as a pipeline-fatal error.
func (m *Manager) Fail(ctx context.Context, batchID string, recordCount int, diagnostic string) error {
	return m.db.WithContext(ctx).Model(&dbmodel.ImportBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"status":         dbmodel.StatusFailed,
			"record_count":   recordCount,
			"error_messages": diagnostic,
		}).Error
}

// Get loads a batch row by id.
func (m *Manager) Get(ctx context.Context, batchID string) (*dbmodel.ImportBatch, error) {
	var b dbmodel.ImportBatch
	if err := m.db.WithContext(ctx).First(&b, "id = ?", batchID).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// RequestCancel sets status to "cancelling", the only transition external
// callers may perform, and only when the batch is currently "processing".
func (m *Manager) RequestCancel(ctx context.Context, batchID string) error {
	res := m.db.WithContext(ctx).Model(&dbmodel.ImportBatch{}).
		Where("id = ? AND status = ?", batchID, dbmodel.StatusProcessing).
		Update("status", dbmodel.StatusCancelling)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("batch %s is not in processing state", batchID)
	}
	return nil
}

// Reprocess deletes the rows previously landed under batchID, in FK-safe
// order (route points by workout id, then workouts, then health records and
// category records), and resets the batch to "processing" so the pipeline
// can be scheduled again against the same stored file. Activity summaries
// carry no batch id and are left in place.
func (m *Manager) Reprocess(ctx context.Context, batchID string) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`
			DELETE FROM route_points
			WHERE workout_id IN (SELECT id FROM workouts WHERE batch_id = ?)
		`, batchID).Error; err != nil {
			return fmt.Errorf("delete route points: %w", err)
		}
		if err := tx.Where("batch_id = ?", batchID).Delete(&dbmodel.Workout{}).Error; err != nil {
			return fmt.Errorf("delete workouts: %w", err)
		}
		if err := tx.Where("batch_id = ?", batchID).Delete(&dbmodel.HealthRecord{}).Error; err != nil {
			return fmt.Errorf("delete health records: %w", err)
		}
		if err := tx.Where("batch_id = ?", batchID).Delete(&dbmodel.CategoryRecord{}).Error; err != nil {
			return fmt.Errorf("delete category records: %w", err)
		}
		return tx.Model(&dbmodel.ImportBatch{}).Where("id = ?", batchID).
			Updates(map[string]any{
				"status":         dbmodel.StatusProcessing,
				"record_count":   0,
				"error_count":    0,
				"skipped_count":  0,
				"error_messages": "",
			}).Error
	})
}
