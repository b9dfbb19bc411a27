// Package dbmodel defines the gorm models landed by the ingestion pipeline
// and the AutoMigrate wiring for them.
package dbmodel

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Batch status values. Only CancelledByUser's transition ("processing" ->
// "cancelling") may originate outside the pipeline; every other transition
// is written by the pipeline itself.
const (
	StatusProcessing = "processing"
	StatusCancelling = "cancelling"
	StatusCancelled  = "cancelled"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ImportBatch is one ingestion attempt.
type ImportBatch struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	OwnerID       int    `gorm:"index;not null"`
	Filename      string
	CreatedAt     time.Time
	RecordCount   int
	Status        string `gorm:"index;not null"`
	ErrorCount    int
	SkippedCount  int
	ErrorMessages string `gorm:"type:text"`
}

// DataSource is a (name, bundle_id) pair resolved to a stable integer id.
// BundleID stores spec.md's ambiguous sourceVersion attribute verbatim —
// see DESIGN.md's Open Question entry.
type DataSource struct {
	ID         int `gorm:"primaryKey;autoIncrement"`
	Name       string `gorm:"uniqueIndex:idx_data_source_name_bundle;not null"`
	BundleID   *string `gorm:"uniqueIndex:idx_data_source_name_bundle"`
	DeviceInfo *string
}

// HealthRecord is a single quantitative measurement at an instant.
type HealthRecord struct {
	Time       time.Time `gorm:"primaryKey;uniqueIndex:idx_health_record_dedup"`
	OwnerID    int       `gorm:"primaryKey;uniqueIndex:idx_health_record_dedup"`
	MetricType string    `gorm:"primaryKey;uniqueIndex:idx_health_record_dedup"`
	Value      float64   `gorm:"uniqueIndex:idx_health_record_dedup"`
	Unit       string
	EndTime    *time.Time
	SourceID   *int `gorm:"uniqueIndex:idx_health_record_dedup"`
	BatchID    *string `gorm:"type:uuid;index"`
}

// CategoryRecord is a single categorical observation at an instant.
type CategoryRecord struct {
	Time         time.Time `gorm:"primaryKey"`
	OwnerID      int       `gorm:"primaryKey"`
	CategoryType string    `gorm:"primaryKey"`
	Value        string
	ValueLabel   string
	EndTime      *time.Time
	SourceID     *int
	BatchID      *string `gorm:"type:uuid;index"`
}

// Workout is a structured exercise session with a deterministic id so
// reruns over the same archive dedupe via the primary key.
type Workout struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	OwnerID        int    `gorm:"uniqueIndex:idx_workout_owner_time_type"`
	Time           time.Time `gorm:"uniqueIndex:idx_workout_owner_time_type"`
	EndTime        *time.Time
	ActivityType   string `gorm:"uniqueIndex:idx_workout_owner_time_type"`
	DurationSec    *float64
	TotalDistanceM *float64
	TotalEnergyKJ  *float64
	SourceID       *int
	BatchID        *string `gorm:"type:uuid;index"`
	Metadata       []byte  `gorm:"type:jsonb"`
}

// RoutePoint is one GPS fix belonging to a Workout.
type RoutePoint struct {
	Time       time.Time `gorm:"primaryKey"`
	WorkoutID  string    `gorm:"primaryKey;type:uuid"`
	Latitude   float64
	Longitude  float64
	AltitudeM  *float64
}

// ActivitySummary is a per-calendar-day roll-up.
type ActivitySummary struct {
	Date                time.Time `gorm:"primaryKey;type:date"`
	OwnerID             int       `gorm:"primaryKey"`
	ActiveEnergyKJ      *float64
	ActiveEnergyGoalKJ  *float64
	ExerciseMinutes     *float64
	ExerciseGoalMinutes *float64
	StandHours          *int
	StandGoalHours      *int
}

// workoutNamespace is the fixed namespace used to derive deterministic
// workout ids. Any implementation deriving ids for this system must use
// this exact namespace to reproduce the same uuid byte-for-byte.
var workoutNamespace = uuid.MustParse("6e4a1f2a-6b3e-4a8e-9c1d-2f9a7b0c5d3e")

// WorkoutID derives the deterministic uuid for a workout from its natural
// key. start must already be normalised to UTC by the caller so the same
// logical instant always serialises identically regardless of the offset
// present in the source record.
func WorkoutID(ownerID int, startUTC time.Time, activityType string) uuid.UUID {
	data := []byte{}
	data = append(data, []byte(strconv.Itoa(ownerID))...)
	data = append(data, 0)
	data = append(data, []byte(startUTC.Format(time.RFC3339Nano))...)
	data = append(data, 0)
	data = append(data, []byte(activityType)...)
	return uuid.NewSHA1(workoutNamespace, data)
}

// AutoMigrate creates or updates every table this package defines.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ImportBatch{},
		&DataSource{},
		&HealthRecord{},
		&CategoryRecord{},
		&Workout{},
		&RoutePoint{},
		&ActivitySummary{},
	)
}
