package progress

import "testing"

func TestCounterAddAndValue(t *testing.T) {
	var c Counter
	c.Add(5)
	c.Add(3)
	if got := c.Value(); got != 8 {
		t.Fatalf("Value() = %d, want 8", got)
	}
}
