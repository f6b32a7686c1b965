// Package framing cuts an inbound byte stream into length-bounded,
// terminator-delimited frames, and encodes outbound frames the same way.
package framing

import (
	"bufio"
	"encoding/json"
	"io"
)

// MaxFrameSize is the maximum size of one frame, including its terminator.
const MaxFrameSize = 1024

// Framer reads '\r\n'-terminated (bare '\n' tolerated) frames off of an
// underlying reader. One Framer serves one connection; it is not
// goroutine-safe, matching the one-reader-goroutine-per-session discipline
// the broker uses.
type Framer struct {
	r *bufio.Reader
}

// NewFramer wraps r for frame-at-a-time reading.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReaderSize(r, MaxFrameSize+1)}
}

// ReadFrame returns the next frame's payload (terminator stripped), with
// the terminator byte counted against MaxFrameSize. Empty frames (a bare
// terminator) are skipped silently, matching §4.1. A frame whose length
// including terminator exceeds MaxFrameSize is discarded and reported via
// the oversized return value; the caller queues a schema error reply for
// it and keeps reading. io.EOF (or any other read error) is returned
// unchanged once the stream is exhausted.
func (f *Framer) ReadFrame() (payload []byte, oversized bool, err error) {
	for {
		buf := make([]byte, 0, 128)
		n := 0
		for {
			b, rerr := f.r.ReadByte()
			if rerr != nil {
				return nil, false, rerr
			}
			n++
			if b == '\n' {
				break
			}
			if n > MaxFrameSize {
				// Keep consuming to the next terminator so a single
				// oversized write doesn't desynchronize framing for the
				// frames that follow it.
				for {
					b2, rerr2 := f.r.ReadByte()
					if rerr2 != nil {
						return nil, false, rerr2
					}
					n++
					if b2 == '\n' {
						break
					}
				}
				return nil, true, nil
			}
			buf = append(buf, b)
		}
		if n > MaxFrameSize {
			return nil, true, nil
		}
		if len(buf) > 0 && buf[len(buf)-1] == '\r' {
			buf = buf[:len(buf)-1]
		}
		if len(buf) == 0 {
			continue // empty frame between terminators, dropped silently
		}
		return buf, false, nil
	}
}

// Encode marshals v as JSON and appends the wire terminator.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	b = append(b, '\r', '\n')
	return b, nil
}
