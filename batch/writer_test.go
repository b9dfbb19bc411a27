package batch

import "testing"

func TestChunkRowsRespectsParamCeiling(t *testing.T) {
	chunks := chunkRows(100, 8)
	perChunk := maxParams / 8
	total := 0
	for _, c := range chunks {
		if len(c) > perChunk {
			t.Fatalf("chunk of %d rows exceeds per-chunk cap %d", len(c), perChunk)
		}
		total += len(c)
	}
	if total != 100 {
		t.Fatalf("chunks covered %d rows, want 100", total)
	}
}

func TestChunkRowsEmpty(t *testing.T) {
	if chunks := chunkRows(0, 8); len(chunks) != 0 {
		t.Fatalf("chunkRows(0, 8) = %v, want empty", chunks)
	}
}

func TestBuildInsertShape(t *testing.T) {
	sql, args := buildInsert(
		"t", []string{"a", "b"}, "(a)", 2,
		func(i int) []any { return []any{i, i * 2} },
	)
	if len(args) != 4 {
		t.Fatalf("args = %v, want 4 values", args)
	}
	const want = "INSERT INTO t (a, b) VALUES ($1, $2), ($3, $4) ON CONFLICT (a) DO NOTHING"
	if sql != want {
		t.Fatalf("sql = %q, want %q", sql, want)
	}
}

func TestPayloadEmpty(t *testing.T) {
	if !(Payload{}).Empty() {
		t.Fatal("zero-value Payload should be Empty")
	}
}
