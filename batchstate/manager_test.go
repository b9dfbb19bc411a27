package batchstate

import "testing"

// placeholder for table-driven unit tests once a pure-logic helper exists
// here; all current behaviour is a thin wrapper over gorm and is covered
// by the integration tests instead.
func TestManagerConstruction(t *testing.T) {
	m := New(nil)
	if m.db != nil {
		t.Fatalf("expected nil db to be stored verbatim")
	}
}
