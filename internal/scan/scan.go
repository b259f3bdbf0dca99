// Package scan implements a resumable, pull-based JSON walker over a chunked
// byte source. It never backtracks over consumed bytes, never buffers more
// than the source's window, and reassembles tokens split across refills, so
// it can traverse documents far larger than memory. Callers either skip a
// value structurally or capture a bounded scalar into a supplied buffer.
package scan

import (
	"fmt"
	"io"
	"unicode/utf16"
	"unicode/utf8"
)

// ByteSource yields successive runs of document bytes. Each Fill invalidates
// the previously returned slice. io.EOF signals exhaustion.
type ByteSource interface {
	Fill() ([]byte, error)
}

// SyntaxError reports structurally invalid JSON or an unexpected end of
// stream. It is fatal for the whole run: a silently-incomplete scan could
// produce misleading results.
type SyntaxError struct {
	Offset int64 // byte offset into the decompressed stream
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("malformed document at byte %d: %s", e.Offset, e.Msg)
}

// Kind classifies a captured scalar.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindNull
)

// Scanner walks the byte stream. The cursor only ever advances; the
// container stack always mirrors the nesting implied by consumed bytes.
type Scanner struct {
	src      ByteSource
	buf      []byte
	pos      int
	consumed int64 // bytes consumed in earlier fills
	stack    []byte
}

// New creates a Scanner over src.
func New(src ByteSource) *Scanner {
	return &Scanner{src: src}
}

// Offset returns the number of stream bytes consumed so far.
func (s *Scanner) Offset() int64 { return s.consumed + int64(s.pos) }

// Depth returns the current container nesting depth.
func (s *Scanner) Depth() int { return len(s.stack) }

func (s *Scanner) refill() error {
	s.consumed += int64(s.pos)
	chunk, err := s.src.Fill()
	if err != nil {
		s.buf, s.pos = nil, 0
		return err
	}
	s.buf, s.pos = chunk, 0
	return nil
}

func (s *Scanner) readByte() (byte, error) {
	for s.pos >= len(s.buf) {
		if err := s.refill(); err != nil {
			return 0, err
		}
	}
	b := s.buf[s.pos]
	s.pos++
	return b, nil
}

func (s *Scanner) peekByte() (byte, error) {
	for s.pos >= len(s.buf) {
		if err := s.refill(); err != nil {
			return 0, err
		}
	}
	return s.buf[s.pos], nil
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

func (s *Scanner) nextNonSpace() (byte, error) {
	for {
		b, err := s.readByte()
		if err != nil {
			return 0, err
		}
		if !isSpace(b) {
			return b, nil
		}
	}
}

func (s *Scanner) peekNonSpace() (byte, error) {
	for {
		b, err := s.peekByte()
		if err != nil {
			return 0, err
		}
		if !isSpace(b) {
			return b, nil
		}
		s.pos++
	}
}

// Peek reports the next non-whitespace byte without consuming it. Callers
// use it to branch on value shape, for fields that may hold either a scalar
// or a container.
func (s *Scanner) Peek() (byte, error) {
	b, err := s.peekNonSpace()
	if err != nil {
		return 0, s.eofOr(err)
	}
	return b, nil
}

func (s *Scanner) errf(format string, args ...any) error {
	return &SyntaxError{Offset: s.Offset(), Msg: fmt.Sprintf(format, args...)}
}

// eofOr converts end-of-stream into a syntax error; source faults pass
// through untouched.
func (s *Scanner) eofOr(err error) error {
	if err == io.EOF {
		return &SyntaxError{Offset: s.Offset(), Msg: "unexpected end of stream"}
	}
	return err
}

// BeginObject consumes the opening brace of an object.
func (s *Scanner) BeginObject() error {
	c, err := s.nextNonSpace()
	if err != nil {
		return s.eofOr(err)
	}
	if c != '{' {
		return s.errf("expected '{', found %q", c)
	}
	s.stack = append(s.stack, '{')
	return nil
}

// BeginArray consumes the opening bracket of an array.
func (s *Scanner) BeginArray() error {
	c, err := s.nextNonSpace()
	if err != nil {
		return s.eofOr(err)
	}
	if c != '[' {
		return s.errf("expected '[', found %q", c)
	}
	s.stack = append(s.stack, '[')
	return nil
}

// NextKey advances to the next key of the current object, appending the key
// bytes to dst. It returns ok=false once the object closes, leaving the
// cursor just past the closing brace.
func (s *Scanner) NextKey(dst []byte) ([]byte, bool, error) {
	c, err := s.peekNonSpace()
	if err != nil {
		return dst, false, s.eofOr(err)
	}
	if c == '}' {
		s.pos++
		if len(s.stack) == 0 || s.stack[len(s.stack)-1] != '{' {
			return dst, false, s.errf("unexpected '}'")
		}
		s.stack = s.stack[:len(s.stack)-1]
		return dst, false, nil
	}
	if c == ',' {
		s.pos++
		if c, err = s.peekNonSpace(); err != nil {
			return dst, false, s.eofOr(err)
		}
	}
	if c != '"' {
		return dst, false, s.errf("expected object key, found %q", c)
	}
	s.pos++
	dst, err = s.readString(dst, true)
	if err != nil {
		return dst, false, err
	}
	c, err = s.nextNonSpace()
	if err != nil {
		return dst, false, s.eofOr(err)
	}
	if c != ':' {
		return dst, false, s.errf("expected ':' after key, found %q", c)
	}
	return dst, true, nil
}

// NextElement reports whether another element follows in the current array.
// It returns false once the array closes, leaving the cursor just past the
// closing bracket. The element's value is not consumed.
func (s *Scanner) NextElement() (bool, error) {
	c, err := s.peekNonSpace()
	if err != nil {
		return false, s.eofOr(err)
	}
	if c == ']' {
		s.pos++
		if len(s.stack) == 0 || s.stack[len(s.stack)-1] != '[' {
			return false, s.errf("unexpected ']'")
		}
		s.stack = s.stack[:len(s.stack)-1]
		return false, nil
	}
	if c == ',' {
		s.pos++
		if c, err = s.peekNonSpace(); err != nil {
			return false, s.eofOr(err)
		}
		if c == ']' {
			return false, s.errf("trailing comma in array")
		}
	}
	if c == '}' {
		return false, s.errf("unexpected '}' in array")
	}
	return true, nil
}

// String consumes a string value, appending its decoded bytes to dst.
func (s *Scanner) String(dst []byte) ([]byte, error) {
	c, err := s.nextNonSpace()
	if err != nil {
		return dst, s.eofOr(err)
	}
	if c != '"' {
		return dst, s.errf("expected string, found %q", c)
	}
	return s.readString(dst, true)
}

// Number consumes a number value, appending its raw token bytes to dst.
func (s *Scanner) Number(dst []byte) ([]byte, error) {
	c, err := s.nextNonSpace()
	if err != nil {
		return dst, s.eofOr(err)
	}
	if c != '-' && (c < '0' || c > '9') {
		return dst, s.errf("expected number, found %q", c)
	}
	dst = append(dst, c)
	for {
		b, err := s.peekByte()
		if err == io.EOF {
			return dst, nil
		}
		if err != nil {
			return dst, err
		}
		if !isNumByte(b) {
			return dst, nil
		}
		dst = append(dst, b)
		s.pos++
	}
}

// Int consumes a number value that must be a plain integer.
func (s *Scanner) Int() (int64, error) {
	c, err := s.nextNonSpace()
	if err != nil {
		return 0, s.eofOr(err)
	}
	neg := false
	if c == '-' {
		neg = true
		if c, err = s.readByte(); err != nil {
			return 0, s.eofOr(err)
		}
	}
	if c < '0' || c > '9' {
		return 0, s.errf("expected integer, found %q", c)
	}
	n := int64(c - '0')
	for {
		b, err := s.peekByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if b >= '0' && b <= '9' {
			n = n*10 + int64(b-'0')
			s.pos++
			continue
		}
		if isNumByte(b) {
			// Fraction or exponent: consume the rest, report non-integer.
			for isNumByte(b) {
				s.pos++
				if b, err = s.peekByte(); err != nil {
					break
				}
			}
			return 0, s.errf("expected integer, found fractional number")
		}
		break
	}
	if neg {
		n = -n
	}
	return n, nil
}

// Scalar consumes any scalar value, appending its text to dst: decoded bytes
// for strings, raw token text for numbers, the literal for booleans and null.
func (s *Scanner) Scalar(dst []byte) ([]byte, Kind, error) {
	c, err := s.peekNonSpace()
	if err != nil {
		return dst, KindNull, s.eofOr(err)
	}
	switch {
	case c == '"':
		s.pos++
		dst, err = s.readString(dst, true)
		return dst, KindString, err
	case c == 't':
		return append(dst, "true"...), KindBool, s.literal("true")
	case c == 'f':
		return append(dst, "false"...), KindBool, s.literal("false")
	case c == 'n':
		return append(dst, "null"...), KindNull, s.literal("null")
	case c == '-' || (c >= '0' && c <= '9'):
		dst, err = s.Number(dst)
		return dst, KindNumber, err
	default:
		return dst, KindNull, s.errf("expected scalar value, found %q", c)
	}
}

// Skip consumes one whole value without producing it. Containers are walked
// with a depth counter and string-escape state only, so arbitrarily nested
// values cost constant memory and no call-stack depth.
func (s *Scanner) Skip() error {
	c, err := s.peekNonSpace()
	if err != nil {
		return s.eofOr(err)
	}
	switch {
	case c == '{' || c == '[':
		s.pos++
		return s.skipContainer()
	case c == '"':
		s.pos++
		_, err := s.readString(nil, false)
		return err
	case c == 't':
		return s.literal("true")
	case c == 'f':
		return s.literal("false")
	case c == 'n':
		return s.literal("null")
	case c == '-' || (c >= '0' && c <= '9'):
		return s.skipNumber()
	default:
		return s.errf("expected value, found %q", c)
	}
}

func (s *Scanner) skipContainer() error {
	depth := 1
	inStr, esc := false, false
	for {
		for s.pos < len(s.buf) {
			b := s.buf[s.pos]
			s.pos++
			if inStr {
				switch {
				case esc:
					esc = false
				case b == '\\':
					esc = true
				case b == '"':
					inStr = false
				}
				continue
			}
			switch b {
			case '"':
				inStr = true
			case '{', '[':
				depth++
			case '}', ']':
				depth--
				if depth == 0 {
					return nil
				}
			}
		}
		if err := s.refill(); err != nil {
			return s.eofOr(err)
		}
	}
}

func (s *Scanner) skipNumber() error {
	if _, err := s.nextNonSpace(); err != nil {
		return s.eofOr(err)
	}
	for {
		b, err := s.peekByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !isNumByte(b) {
			return nil
		}
		s.pos++
	}
}

// literal consumes the given literal token, whose bytes may arrive across
// any number of refills.
func (s *Scanner) literal(want string) error {
	for i := 0; i < len(want); i++ {
		b, err := s.readByte()
		if err != nil {
			return s.eofOr(err)
		}
		if b != want[i] {
			return s.errf("invalid literal: expected %q", want)
		}
	}
	return nil
}

func isNumByte(b byte) bool {
	return (b >= '0' && b <= '9') || b == '-' || b == '+' || b == '.' || b == 'e' || b == 'E'
}

// readString scans string content after the opening quote. When capture is
// true the decoded bytes are appended to dst; otherwise bytes are discarded.
// Content, escapes, and \u hex digits may all straddle refill boundaries.
func (s *Scanner) readString(dst []byte, capture bool) ([]byte, error) {
	for {
		start := s.pos
		for s.pos < len(s.buf) {
			b := s.buf[s.pos]
			if b == '"' || b == '\\' {
				break
			}
			s.pos++
		}
		if capture && s.pos > start {
			dst = append(dst, s.buf[start:s.pos]...)
		}
		if s.pos >= len(s.buf) {
			if err := s.refill(); err != nil {
				return dst, s.eofOr(err)
			}
			continue
		}
		b := s.buf[s.pos]
		s.pos++
		if b == '"' {
			return dst, nil
		}
		var err error
		dst, err = s.readEscape(dst, capture)
		if err != nil {
			return dst, err
		}
	}
}

func escapeByte(e byte) (byte, bool) {
	switch e {
	case '"':
		return '"', true
	case '\\':
		return '\\', true
	case '/':
		return '/', true
	case 'b':
		return '\b', true
	case 'f':
		return '\f', true
	case 'n':
		return '\n', true
	case 'r':
		return '\r', true
	case 't':
		return '\t', true
	}
	return 0, false
}

// readEscape handles one escape sequence; the backslash is already consumed.
func (s *Scanner) readEscape(dst []byte, capture bool) ([]byte, error) {
	e, err := s.readByte()
	if err != nil {
		return dst, s.eofOr(err)
	}
	if b, ok := escapeByte(e); ok {
		if capture {
			dst = append(dst, b)
		}
		return dst, nil
	}
	if e != 'u' {
		return dst, s.errf("invalid escape \\%c", e)
	}

	r, err := s.readHex4()
	if err != nil {
		return dst, err
	}
	if !utf16.IsSurrogate(r) {
		if capture {
			dst = utf8.AppendRune(dst, r)
		}
		return dst, nil
	}

	// A high surrogate is only completed by an immediately following \uXXXX.
	c, err := s.peekByte()
	if err != nil || c != '\\' {
		if capture {
			dst = utf8.AppendRune(dst, utf8.RuneError)
		}
		return dst, nil
	}
	s.pos++
	e2, err := s.readByte()
	if err != nil {
		return dst, s.eofOr(err)
	}
	if e2 != 'u' {
		if capture {
			dst = utf8.AppendRune(dst, utf8.RuneError)
		}
		if b, ok := escapeByte(e2); ok {
			if capture {
				dst = append(dst, b)
			}
			return dst, nil
		}
		return dst, s.errf("invalid escape \\%c", e2)
	}
	r2, err := s.readHex4()
	if err != nil {
		return dst, err
	}
	if dec := utf16.DecodeRune(r, r2); dec != utf8.RuneError {
		if capture {
			dst = utf8.AppendRune(dst, dec)
		}
		return dst, nil
	}
	if capture {
		dst = utf8.AppendRune(dst, utf8.RuneError)
		if !utf16.IsSurrogate(r2) {
			dst = utf8.AppendRune(dst, r2)
		} else {
			dst = utf8.AppendRune(dst, utf8.RuneError)
		}
	}
	return dst, nil
}

// readHex4 reads the four hex digits of a \u escape, possibly split across
// refills.
func (s *Scanner) readHex4() (rune, error) {
	var r rune
	for i := 0; i < 4; i++ {
		b, err := s.readByte()
		if err != nil {
			return 0, s.eofOr(err)
		}
		var v rune
		switch {
		case b >= '0' && b <= '9':
			v = rune(b - '0')
		case b >= 'a' && b <= 'f':
			v = rune(b-'a') + 10
		case b >= 'A' && b <= 'F':
			v = rune(b-'A') + 10
		default:
			return 0, s.errf("invalid hex digit %q in \\u escape", b)
		}
		r = r<<4 | v
	}
	return r, nil
}
