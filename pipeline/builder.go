package pipeline

import (
	"context"
	"encoding/json"

	"vitalpipe.dev/batch"
	"vitalpipe.dev/dbmodel"
	"vitalpipe.dev/healthxml"
)

// builder accumulates classified events into a batch.Payload, flushing to
// the consumer channel once the combined row count crosses threshold. It is
// only ever touched from the producer goroutine, so it needs no locking.
type builder struct {
	ctx       context.Context
	ownerID   int
	batchID   string
	threshold int

	payload batch.Payload
}

func (b *builder) addRecord(e healthxml.RecordEvent, sourceID *int) {
	switch e.Kind {
	case healthxml.Quantitative:
		b.payload.Samples = append(b.payload.Samples, dbmodel.HealthRecord{
			Time:       e.Time,
			OwnerID:    b.ownerID,
			MetricType: e.MetricType,
			Value:      e.Value,
			Unit:       e.Unit,
			EndTime:    e.EndTime,
			SourceID:   sourceID,
			BatchID:    &b.batchID,
		})
	case healthxml.Categorical:
		b.payload.Categoricals = append(b.payload.Categoricals, dbmodel.CategoryRecord{
			Time:         e.Time,
			OwnerID:      b.ownerID,
			CategoryType: e.CategoryType,
			Value:        e.RawValue,
			ValueLabel:   e.ValueLabel,
			EndTime:      e.EndTime,
			SourceID:     sourceID,
			BatchID:      &b.batchID,
		})
	}
}

func (b *builder) addWorkout(e healthxml.WorkoutEvent, sourceID *int) {
	start := e.Time.UTC()
	id := dbmodel.WorkoutID(b.ownerID, start, e.ActivityType).String()

	var metadata []byte
	if len(e.Metadata) > 0 {
		if encoded, err := json.Marshal(e.Metadata); err == nil {
			metadata = encoded
		}
	}

	b.payload.Workouts = append(b.payload.Workouts, dbmodel.Workout{
		ID:             id,
		OwnerID:        b.ownerID,
		Time:           e.Time,
		EndTime:        e.EndTime,
		ActivityType:   e.ActivityType,
		DurationSec:    e.DurationSec,
		TotalDistanceM: e.TotalDistanceM,
		TotalEnergyKJ:  e.TotalEnergyKJ,
		SourceID:       sourceID,
		BatchID:        &b.batchID,
		Metadata:       metadata,
	})

	for _, p := range e.RoutePoints {
		b.payload.RoutePoints = append(b.payload.RoutePoints, dbmodel.RoutePoint{
			Time:      p.Time,
			WorkoutID: id,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			AltitudeM: p.AltitudeM,
		})
	}
}

func (b *builder) addSummary(e healthxml.ActivitySummaryEvent) {
	b.payload.Summaries = append(b.payload.Summaries, dbmodel.ActivitySummary{
		Date:                e.Date,
		OwnerID:             b.ownerID,
		ActiveEnergyKJ:      e.ActiveEnergyKJ,
		ActiveEnergyGoalKJ:  e.ActiveEnergyGoalKJ,
		ExerciseMinutes:     e.ExerciseMinutes,
		ExerciseGoalMinutes: e.ExerciseGoalMinutes,
		StandHours:          e.StandHours,
		StandGoalHours:      e.StandGoalHours,
	})
}

func (b *builder) rowCount() int {
	return len(b.payload.Samples) + len(b.payload.Categoricals) + len(b.payload.Summaries) +
		len(b.payload.Workouts) + len(b.payload.RoutePoints)
}

func (b *builder) flushIfFull(chunks chan<- batch.Payload) {
	if b.rowCount() >= b.threshold {
		b.flush(chunks)
	}
}

func (b *builder) flush(chunks chan<- batch.Payload) {
	if b.payload.Empty() {
		return
	}
	select {
	case chunks <- b.payload:
	case <-b.ctx.Done():
	}
	b.payload = batch.Payload{}
}
