package pipeline

import (
	"context"
	"testing"
	"time"

	"vitalpipe.dev/batch"
	"vitalpipe.dev/healthxml"
)

func TestBuilderFlushesWhenThresholdReached(t *testing.T) {
	chunks := make(chan batch.Payload, 4)
	b := &builder{ctx: context.Background(), ownerID: 1, batchID: "b1", threshold: 2}

	now := time.Now().UTC()
	b.addRecord(healthxml.RecordEvent{Kind: healthxml.Quantitative, Time: now, MetricType: "StepCount", Value: 1}, nil)
	select {
	case <-chunks:
		t.Fatalf("should not flush below threshold")
	default:
	}

	b.addRecord(healthxml.RecordEvent{Kind: healthxml.Quantitative, Time: now, MetricType: "StepCount", Value: 2}, nil)
	b.flushIfFull(chunks)

	select {
	case p := <-chunks:
		if len(p.Samples) != 2 {
			t.Fatalf("expected 2 samples, got %d", len(p.Samples))
		}
	default:
		t.Fatalf("expected a flushed payload")
	}
}

func TestBuilderWorkoutCarriesDeterministicIDAndRoutePoints(t *testing.T) {
	chunks := make(chan batch.Payload, 1)
	b := &builder{ctx: context.Background(), ownerID: 7, batchID: "b2", threshold: 1000}

	now := time.Now().UTC()
	b.addWorkout(healthxml.WorkoutEvent{
		Time:         now,
		ActivityType: "Running",
		RoutePoints: []healthxml.RoutePointEvent{
			{Time: now, Latitude: 1, Longitude: 2},
		},
	}, nil)
	b.flush(chunks)

	p := <-chunks
	if len(p.Workouts) != 1 || len(p.RoutePoints) != 1 {
		t.Fatalf("expected one workout and one route point, got %+v", p)
	}
	if p.RoutePoints[0].WorkoutID != p.Workouts[0].ID {
		t.Fatalf("route point workout id mismatch")
	}
}

func TestBuilderFlushIsNoOpWhenEmpty(t *testing.T) {
	chunks := make(chan batch.Payload, 1)
	b := &builder{ctx: context.Background(), ownerID: 1, batchID: "b3", threshold: 10}
	b.flush(chunks)
	select {
	case <-chunks:
		t.Fatalf("expected no payload for an empty builder")
	default:
	}
}
