// Package source supplies decompressed document bytes to the scanner one
// buffer fill at a time.
package source

import (
	"fmt"
	"io"
)

// DefaultBufferSize is the number of bytes requested per refill when the
// caller does not configure one. Larger buffers mean fewer refills at the
// cost of peak memory.
const DefaultBufferSize = 128 << 20 // 128 MiB

// ReadError wraps an I/O or decompression fault from the underlying reader.
// It is fatal: the byte stream's position cannot be safely replayed, so there
// is no retry.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string { return fmt.Sprintf("reading source: %v", e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }

// Source owns a single fixed-capacity buffer over a decompression reader.
// Each Fill replaces the buffer contents wholesale, so callers must have
// consumed everything from the previous Fill before asking for more.
type Source struct {
	r     io.Reader
	buf   []byte
	total int64
	done  bool
}

// New creates a Source reading from r with the given buffer size.
// A non-positive size selects DefaultBufferSize.
func New(r io.Reader, size int) *Source {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Source{r: r, buf: make([]byte, size)}
}

// Fill replaces the buffer with the next run of decompressed bytes and
// returns the filled slice. It returns io.EOF once the reader is exhausted
// with no new bytes, and a *ReadError for any other fault.
func (s *Source) Fill() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		n, err := s.r.Read(s.buf)
		if n > 0 {
			s.total += int64(n)
			if err == io.EOF {
				s.done = true
			} else if err != nil {
				// Deliver the bytes we have; the fault surfaces next call.
				s.r = &errReader{err}
			}
			return s.buf[:n], nil
		}
		if err == io.EOF {
			s.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, &ReadError{Err: err}
		}
	}
}

// BytesRead returns the total decompressed bytes delivered so far.
func (s *Source) BytesRead() int64 { return s.total }

type errReader struct{ err error }

func (r *errReader) Read([]byte) (int, error) { return 0, r.err }
