package pipeline

import (
	"context"
	"io"
)

// ctxReader stops feeding bytes to the XML decoder once ctx is cancelled.
// That only happens here after a fatal write error has already been
// recorded (see fail in pipeline.go), so truncating mid-element is safe:
// the run is already failing for an unrelated reason, and the partial
// processed count is only reported alongside that failure. Cooperative batch cancellation is
// handled separately, at the element checkpoint in healthxml.Parse's own
// loop, so a cancelled batch never corrupts the decoder mid-element.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-c.ctx.Done():
		return 0, io.EOF
	default:
	}
	return c.r.Read(p)
}
