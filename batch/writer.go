// Package batch bulk-inserts one BatchPayload's worth of classified
// elements into Postgres. Independent entity kinds are written in parallel,
// each on its own pooled connection (session-per-writer, spec.md §9);
// workouts are written only after the independent inserts finish, and
// route points only after workouts succeed, since route points carry a
// foreign key to their workout.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"vitalpipe.dev/dbmodel"
	"vitalpipe.dev/ingesterr"
)

// maxParams bounds rows*columns per parameterised statement, matching the
// driver's parameter ceiling (spec.md §4.6).
const maxParams = 32000

// Payload aggregates up to the configured batch size of classified
// elements, split by entity kind, that a single consumer will land.
type Payload struct {
	Samples      []dbmodel.HealthRecord
	Categoricals []dbmodel.CategoryRecord
	Summaries    []dbmodel.ActivitySummary
	Workouts     []dbmodel.Workout
	RoutePoints  []dbmodel.RoutePoint
}

// Empty reports whether the payload carries no rows at all.
func (p Payload) Empty() bool {
	return len(p.Samples) == 0 && len(p.Categoricals) == 0 && len(p.Summaries) == 0 &&
		len(p.Workouts) == 0 && len(p.RoutePoints) == 0
}

// Stats summarises the outcome of writing one Payload.
type Stats struct {
	SamplesWritten      int
	CategoricalsWritten int
	SummariesWritten    int
	WorkoutsWritten     int
	RoutePointsWritten  int
	SubFailures         []error // WriteSubFailure-kind errors, logged but non-fatal
}

// Writer lands payloads into Postgres via a shared connection pool, one
// connection per concurrent write.
type Writer struct {
	pool *pgxpool.Pool
}

// NewWriter wraps an existing pgxpool.Pool. The pool is owned by the
// caller; Writer never closes it.
func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

// Write lands one payload. It returns a *ingesterr.Error with Kind
// WriteFatal only when the database itself could not be reached; per-kind
// insert failures are reported in Stats.SubFailures and do not stop
// sibling inserts in the same payload.
func (w *Writer) Write(ctx context.Context, p Payload) (Stats, error) {
	var stats Stats
	if err := w.pool.Ping(ctx); err != nil {
		return stats, ingesterr.New(ingesterr.WriteFatal, fmt.Errorf("reaching database: %w", err))
	}
	var mu sync.Mutex
	var wg sync.WaitGroup

	record := func(n int, err error, assign func(int)) {
		defer wg.Done()
		mu.Lock()
		defer mu.Unlock()
		assign(n)
		if err != nil {
			stats.SubFailures = append(stats.SubFailures, ingesterr.New(ingesterr.WriteSubFailure, err))
		}
	}

	wg.Add(3)
	go func() {
		n, err := w.writeSamples(ctx, p.Samples)
		record(n, err, func(v int) { stats.SamplesWritten = v })
	}()
	go func() {
		n, err := w.writeCategoricals(ctx, p.Categoricals)
		record(n, err, func(v int) { stats.CategoricalsWritten = v })
	}()
	go func() {
		n, err := w.writeSummaries(ctx, p.Summaries)
		record(n, err, func(v int) { stats.SummariesWritten = v })
	}()
	wg.Wait()

	// Workouts must land before their route points (FK ordering, §4.5).
	if len(p.Workouts) > 0 {
		n, err := w.writeWorkouts(ctx, p.Workouts)
		stats.WorkoutsWritten = n
		if err != nil {
			stats.SubFailures = append(stats.SubFailures, ingesterr.New(ingesterr.WriteSubFailure, err))
			return stats, nil
		}
	}
	if len(p.RoutePoints) > 0 {
		n, err := w.writeRoutePoints(ctx, p.RoutePoints)
		stats.RoutePointsWritten = n
		if err != nil {
			stats.SubFailures = append(stats.SubFailures, ingesterr.New(ingesterr.WriteSubFailure, err))
		}
	}

	return stats, nil
}

func (w *Writer) writeSamples(ctx context.Context, rows []dbmodel.HealthRecord) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	const cols = 8
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	written := 0
	for _, chunk := range chunkRows(len(rows), cols) {
		sql, args := buildInsert(
			"health_records",
			[]string{"time", "owner_id", "metric_type", "value", "unit", "end_time", "source_id", "batch_id"},
			"(owner_id, metric_type, time, value, source_id)",
			len(chunk),
			func(i int) []any {
				r := rows[chunk[i]]
				return []any{r.Time, r.OwnerID, r.MetricType, r.Value, r.Unit, r.EndTime, r.SourceID, r.BatchID}
			},
		)
		tag, err := conn.Exec(ctx, sql, args...)
		if err != nil {
			return written, err
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

func (w *Writer) writeCategoricals(ctx context.Context, rows []dbmodel.CategoryRecord) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	const cols = 8
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	written := 0
	for _, chunk := range chunkRows(len(rows), cols) {
		sql, args := buildInsert(
			"category_records",
			[]string{"time", "owner_id", "category_type", "value", "value_label", "end_time", "source_id", "batch_id"},
			"(time, owner_id, category_type)",
			len(chunk),
			func(i int) []any {
				r := rows[chunk[i]]
				return []any{r.Time, r.OwnerID, r.CategoryType, r.Value, r.ValueLabel, r.EndTime, r.SourceID, r.BatchID}
			},
		)
		tag, err := conn.Exec(ctx, sql, args...)
		if err != nil {
			return written, err
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

func (w *Writer) writeSummaries(ctx context.Context, rows []dbmodel.ActivitySummary) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	const cols = 8
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	written := 0
	for _, chunk := range chunkRows(len(rows), cols) {
		sql, args := buildInsert(
			"activity_summaries",
			[]string{"date", "owner_id", "active_energy_kj", "active_energy_goal_kj", "exercise_minutes", "exercise_goal_minutes", "stand_hours", "stand_goal_hours"},
			"(date, owner_id)",
			len(chunk),
			func(i int) []any {
				r := rows[chunk[i]]
				return []any{r.Date, r.OwnerID, r.ActiveEnergyKJ, r.ActiveEnergyGoalKJ, r.ExerciseMinutes, r.ExerciseGoalMinutes, r.StandHours, r.StandGoalHours}
			},
		)
		tag, err := conn.Exec(ctx, sql, args...)
		if err != nil {
			return written, err
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

func (w *Writer) writeWorkouts(ctx context.Context, rows []dbmodel.Workout) (int, error) {
	const cols = 11
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	written := 0
	for _, chunk := range chunkRows(len(rows), cols) {
		sql, args := buildInsert(
			"workouts",
			[]string{"id", "owner_id", "time", "end_time", "activity_type", "duration_sec", "total_distance_m", "total_energy_kj", "source_id", "batch_id", "metadata"},
			"(owner_id, time, activity_type)",
			len(chunk),
			func(i int) []any {
				r := rows[chunk[i]]
				var metadata []byte
				if r.Metadata != nil {
					metadata = r.Metadata
				} else {
					metadata, _ = json.Marshal(map[string]string{})
				}
				return []any{r.ID, r.OwnerID, r.Time, r.EndTime, r.ActivityType, r.DurationSec, r.TotalDistanceM, r.TotalEnergyKJ, r.SourceID, r.BatchID, metadata}
			},
		)
		tag, err := conn.Exec(ctx, sql, args...)
		if err != nil {
			return written, err
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

func (w *Writer) writeRoutePoints(ctx context.Context, rows []dbmodel.RoutePoint) (int, error) {
	const cols = 5
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	written := 0
	for _, chunk := range chunkRows(len(rows), cols) {
		sql, args := buildInsert(
			"route_points",
			[]string{"time", "workout_id", "latitude", "longitude", "altitude_m"},
			"(time, workout_id)",
			len(chunk),
			func(i int) []any {
				r := rows[chunk[i]]
				return []any{r.Time, r.WorkoutID, r.Latitude, r.Longitude, r.AltitudeM}
			},
		)
		tag, err := conn.Exec(ctx, sql, args...)
		if err != nil {
			return written, err
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

// chunkRows splits [0, n) into index slices sized so chunk*cols stays
// within maxParams.
func chunkRows(n, cols int) [][]int {
	perChunk := maxParams / cols
	if perChunk < 1 {
		perChunk = 1
	}
	var chunks [][]int
	for start := 0; start < n; start += perChunk {
		end := start + perChunk
		if end > n {
			end = n
		}
		idx := make([]int, end-start)
		for i := range idx {
			idx[i] = start + i
		}
		chunks = append(chunks, idx)
	}
	return chunks
}

// buildInsert renders a multi-row parameterised INSERT ... ON CONFLICT
// conflictCols DO NOTHING statement for rowCount rows of cols, pulling each
// row's values from rowArgs(i).
func buildInsert(table string, cols []string, conflictCols string, rowCount int, rowArgs func(i int) []any) (string, []any) {
	var args []any
	var valuesSQL string
	argN := 1
	for i := 0; i < rowCount; i++ {
		if i > 0 {
			valuesSQL += ", "
		}
		valuesSQL += "("
		for j := range cols {
			if j > 0 {
				valuesSQL += ", "
			}
			valuesSQL += fmt.Sprintf("$%d", argN)
			argN++
		}
		valuesSQL += ")"
		args = append(args, rowArgs(i)...)
	}

	colList := ""
	for i, c := range cols {
		if i > 0 {
			colList += ", "
		}
		colList += c
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT %s DO NOTHING",
		table, colList, valuesSQL, conflictCols,
	)
	return sql, args
}
