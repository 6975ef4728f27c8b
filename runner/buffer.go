package runner

import (
	"bytes"
	"fmt"

	"github.com/dustin/go-humanize"
)

// boundedBuffer keeps the first limit bytes written to it and drops the rest.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

// Write never fails so the child never sees a broken pipe.
func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

// Bytes returns a copy of the retained bytes, marked if truncated.
func (b *boundedBuffer) Bytes() []byte {
	out := append([]byte(nil), b.buf.Bytes()...)
	if b.truncated {
		out = append(out, truncationMarker(b.limit)...)
	}
	return out
}

func truncationMarker(limit int) string {
	return fmt.Sprintf("\n[diagnostics truncated after %s]\n", humanize.IBytes(uint64(limit)))
}
