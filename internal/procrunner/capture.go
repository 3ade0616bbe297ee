package procrunner

import (
	"io"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// boundedBuffer collects a child's output up to a byte ceiling, silently
// truncating overflow with a tail marker (spec.md §4.3 "Output
// handling"). Every write is passed through a UTF-8 sanitizing
// transformer so a child that writes invalid byte sequences (e.g. a
// differently-encoded crash dump) never corrupts the buffer's UTF-8
// validity — bytes that aren't valid UTF-8 are replaced, never split
// mid-rune.
type boundedBuffer struct {
	mu       sync.Mutex
	max      int
	buf      []byte
	overflow bool
	sanitize transform.Transformer
}

var truncatedMarker = []byte("\n...[output truncated]\n")

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{
		max:      max,
		sanitize: unicode.UTF8.NewDecoder(),
	}
}

// Write implements io.Writer. It is safe for concurrent use by the
// (serialized) pipe-draining goroutines that feed it.
func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if b.overflow {
		return n, nil
	}

	clean, _, err := transform.Bytes(b.sanitize, p)
	if err != nil {
		// Fall back to the raw bytes rather than drop the chunk; a
		// sanitizing failure shouldn't turn into a lost attempt.
		clean = p
	}

	remaining := b.max - len(b.buf)
	if remaining <= 0 {
		b.overflow = true
		b.buf = append(b.buf, truncatedMarker...)
		return n, nil
	}
	if len(clean) > remaining {
		clean = truncateValidUTF8(clean, remaining)
		b.buf = append(b.buf, clean...)
		b.buf = append(b.buf, truncatedMarker...)
		b.overflow = true
		return n, nil
	}
	b.buf = append(b.buf, clean...)
	return n, nil
}

// Bytes returns a copy of the buffer's current contents.
func (b *boundedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// truncateValidUTF8 trims p to at most n bytes without splitting a
// multi-byte rune across the cut point.
func truncateValidUTF8(p []byte, n int) []byte {
	if n >= len(p) {
		return p
	}
	for n > 0 && !utf8.RuneStart(p[n]) {
		n--
	}
	return p[:n]
}

// drain copies from r into dst until EOF (or a read error), then closes
// done; the supervisor's leak-detection wait watches done.
func drain(r io.Reader, dst io.Writer, done chan<- struct{}) {
	_, _ = io.Copy(dst, r)
	close(done)
}
