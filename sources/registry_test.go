package sources

import (
	"context"
	"testing"
)

func TestResolveWithNoSourceName(t *testing.T) {
	r := New(nil)
	id, ok, err := r.Resolve(context.Background(), "", "", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ok {
		t.Fatalf("Resolve with empty name should not resolve, got id=%d", id)
	}
}
