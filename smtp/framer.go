package smtp

import "errors"

// maxLineOctets is the RFC 5321 §4.5.3.1.6 hard limit on a command line,
// not counting the terminating CRLF. The teacher's protocol.go used the
// same constant under the name MAX_LINE.
const maxLineOctets = 998

// ErrLineTooLong is the synthetic event the line framer raises on overflow;
// the engine translates it into "500 line too long" per spec.md §4.1.
var ErrLineTooLong = errors.New("line too long")

// lineFramer accumulates bytes until a CRLF pair is seen and emits
// complete lines (terminator excluded). It is fed byte-by-byte by the
// engine's command-phase read loop and is inactive during DATA/BDAT,
// matching spec.md §4.1's "operates on a rolling buffer" requirement
// without ever copying the whole inbound stream.
type lineFramer struct {
	buf     []byte
	tooLong bool
}

func newLineFramer() *lineFramer {
	return &lineFramer{buf: make([]byte, 0, 1024)}
}

// feed appends one byte. When it completes a line, that line (without the
// CRLF) is returned with ok=true. Once a line exceeds the 998-octet limit
// the framer silently discards bytes up to the LF that ends that line, and
// returns err=ErrLineTooLong on that LF, so the caller replies once per
// overlong line.
func (f *lineFramer) feed(b byte) (line string, ok bool, err error) {
	if f.tooLong {
		if b == '\n' && len(f.buf) > 0 && f.buf[len(f.buf)-1] == '\r' {
			f.buf = f.buf[:0]
			f.tooLong = false
			return "", false, ErrLineTooLong
		}
		if b == '\n' {
			f.buf = f.buf[:0]
			f.tooLong = false
			return "", false, ErrLineTooLong
		}
		f.buf = append(f.buf, b)
		return "", false, nil
	}

	f.buf = append(f.buf, b)

	if len(f.buf) >= 2 && f.buf[len(f.buf)-1] == '\n' && f.buf[len(f.buf)-2] == '\r' {
		line = string(f.buf[:len(f.buf)-2])
		f.buf = f.buf[:0]
		return line, true, nil
	}

	// buf holds content not yet terminated by CRLF; once it exceeds the
	// octet limit (terminator excluded) flag it and keep consuming until
	// the next CRLF so the caller can reply once and resynchronize.
	if len(f.buf) > maxLineOctets+1 {
		f.tooLong = true
		f.buf = f.buf[:0]
		return "", false, nil
	}

	return "", false, nil
}

// reset clears any partial line, used when transitioning into DATA/BDAT
// where the framer goes inactive (spec.md §4.1).
func (f *lineFramer) reset() {
	f.buf = f.buf[:0]
	f.tooLong = false
}
