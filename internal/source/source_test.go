package source

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestFillDeliversAllBytes(t *testing.T) {
	data := strings.Repeat("abcdefgh", 100)
	s := New(strings.NewReader(data), 64)

	var got bytes.Buffer
	for {
		chunk, err := s.Fill()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Fill: %v", err)
		}
		if len(chunk) == 0 {
			t.Fatalf("Fill returned an empty chunk without error")
		}
		if len(chunk) > 64 {
			t.Fatalf("chunk of %d bytes exceeds buffer size", len(chunk))
		}
		got.Write(chunk)
	}

	if got.String() != data {
		t.Errorf("reassembled %d bytes, want %d", got.Len(), len(data))
	}
	if s.BytesRead() != int64(len(data)) {
		t.Errorf("BytesRead = %d, want %d", s.BytesRead(), len(data))
	}
}

func TestFillOneByteReads(t *testing.T) {
	// A reader that trickles one byte at a time must not look like EOF.
	data := "streaming"
	s := New(iotest.OneByteReader(strings.NewReader(data)), 8)

	var got bytes.Buffer
	for {
		chunk, err := s.Fill()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Fill: %v", err)
		}
		got.Write(chunk)
	}
	if got.String() != data {
		t.Errorf("got %q, want %q", got.String(), data)
	}
}

func TestFillEOFWithFinalBytes(t *testing.T) {
	// Readers may return n>0 together with io.EOF; those bytes still count.
	s := New(iotest.DataErrReader(strings.NewReader("tail")), 16)

	chunk, err := s.Fill()
	if err != nil || string(chunk) != "tail" {
		t.Fatalf("Fill = %q, %v; want \"tail\", nil", chunk, err)
	}
	if _, err := s.Fill(); err != io.EOF {
		t.Errorf("second Fill err = %v, want io.EOF", err)
	}
}

func TestFillWrapsReaderFault(t *testing.T) {
	fault := errors.New("connection reset")
	s := New(iotest.ErrReader(fault), 16)

	_, err := s.Fill()
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("Fill err = %v, want *ReadError", err)
	}
	if !errors.Is(err, fault) {
		t.Errorf("ReadError does not unwrap to the original fault")
	}
}

func TestFillFaultAfterBytes(t *testing.T) {
	fault := errors.New("mid-stream corruption")
	r := io.MultiReader(strings.NewReader("good bytes"), iotest.ErrReader(fault))
	s := New(r, 16)

	chunk, err := s.Fill()
	if err != nil || string(chunk) != "good bytes" {
		t.Fatalf("Fill = %q, %v; want the good bytes first", chunk, err)
	}
	_, err = s.Fill()
	if !errors.Is(err, fault) {
		t.Errorf("fault after delivered bytes = %v, want wrapped %v", err, fault)
	}
}

func TestDefaultBufferSize(t *testing.T) {
	s := New(strings.NewReader(""), 0)
	if len(s.buf) != DefaultBufferSize {
		t.Errorf("buffer size = %d, want DefaultBufferSize", len(s.buf))
	}
}
