package healthxml

import "io"

// tolerantReader wraps an io.Reader and drops the small set of raw control
// bytes the vendor's exports are known to contain outside of any tag text
// (NUL and the C0 control range below space, excluding the whitespace
// control characters XML itself allows). encoding/xml has no lenient mode,
// so this best-effort scrub is the closest equivalent to the source
// parser's tolerant mode; anything else that breaks well-formedness still
// surfaces as ParseFatal from the decoder.
type tolerantReader struct {
	r io.Reader
}

func newTolerantReader(r io.Reader) *tolerantReader {
	return &tolerantReader{r: r}
}

func (t *tolerantReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		out := p[:0]
		for _, b := range p[:n] {
			if isStrippedControlByte(b) {
				continue
			}
			out = append(out, b)
		}
		n = len(out)
	}
	return n, err
}

func isStrippedControlByte(b byte) bool {
	if b == '\t' || b == '\n' || b == '\r' {
		return false
	}
	return b < 0x20
}
