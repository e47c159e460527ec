package smtp

// dataSubState is the DATA termination mini-automaton from spec.md §3/§4.5:
// NORMAL, SAW_CR, SAW_CRLF, SAW_DOT, SAW_DOT_CR.
type dataSubState int

const (
	dataNormal dataSubState = iota
	dataSawCR
	dataSawCRLF
	dataSawDot
	dataSawDotCR
)

// dataFramer runs the DATA dot-unstuffing/terminator automaton over an
// arbitrary byte stream, delivering content chunks to a sink and
// reporting completion plus any pipelined bytes that followed the
// terminator in the same read, per spec.md §4.5. A partial control
// sequence ("\r", "\r\n", "\r\n.", "\r\n.\r" — at most 8 bytes, though in
// practice never more than 4) straddling a TCP segment boundary needs no
// separate holding buffer: f.state itself records exactly how much of the
// sequence has been seen, so the next feed() call simply resumes the
// automaton on the new bytes.
type dataFramer struct {
	state        dataSubState
	bytesSeen    int64
	maxSize      int64
	sizeExceeded bool
}

// newDataFramer starts the automaton as though a CRLF had just been seen:
// the DATA command's own terminating CRLF puts the body's first line at a
// line start, so a leading dot on the very first line is dot-stuffing too
// (RFC 5321 §4.5.2 applies to "each line of the mail text", not just lines
// after the first).
func newDataFramer(maxSize int64) *dataFramer {
	return &dataFramer{maxSize: maxSize, state: dataSawCRLF}
}

// dataFrameResult is the outcome of one feed() call.
type dataFrameResult struct {
	chunk      []byte // content bytes to deliver to the application
	terminated bool
	trailing   []byte // bytes after the terminator (pipelined input)
}

// feed consumes buf (one transport read) and returns the content chunk(s)
// to deliver plus whether the terminator was found. f.state carries any
// in-flight control sequence across calls, so a segment boundary inside
// "\r\n.\r\n" never loses or duplicates a byte.
func (f *dataFramer) feed(buf []byte) dataFrameResult {
	input := buf
	out := make([]byte, 0, len(input))

	for i := 0; i < len(input); i++ {
		b := input[i]

		switch f.state {
		case dataNormal:
			if b == '\r' {
				f.state = dataSawCR
				continue
			}
			out = append(out, b)

		case dataSawCR:
			if b == '\n' {
				f.state = dataSawCRLF
				out = append(out, '\r', '\n')
				continue
			}
			// lone CR: not part of a terminator candidate, flush it and
			// reprocess b as NORMAL.
			out = append(out, '\r')
			f.state = dataNormal
			i--
			continue

		case dataSawCRLF:
			if b == '.' {
				// candidate dot-stuffing prefix: withhold the dot.
				f.state = dataSawDot
				continue
			}
			if b == '\r' {
				f.state = dataSawCR
				continue
			}
			f.state = dataNormal
			out = append(out, b)

		case dataSawDot:
			if b == '\r' {
				f.state = dataSawDotCR
				continue
			}
			// confirmed stuffing: the withheld dot is dropped, b starts a
			// new content byte.
			f.state = dataNormal
			out = append(out, b)

		case dataSawDotCR:
			if b == '\n' {
				// terminator found: CRLF.CRLF. Deliver out so far (sans
				// terminator), everything after i is pipelined.
				f.countAndTrim(&out)
				trailing := make([]byte, len(input)-i-1)
				copy(trailing, input[i+1:])
				return dataFrameResult{chunk: out, terminated: true, trailing: trailing}
			}
			// not a terminator: "CRLF.CR" followed by non-LF. Per the
			// dot-stuffing removal rule the leading dot is still dropped
			// (it is only ever kept when doubled, handled in SAW_DOT); the
			// withheld CR was not part of the terminator either, so it is
			// reprocessed as a fresh, possibly-lone CR instead of being
			// re-emitted directly.
			f.state = dataSawCR
			i--
			continue
		}
	}

	f.countAndTrim(&out)
	return dataFrameResult{chunk: out}
}

func (f *dataFramer) countAndTrim(out *[]byte) {
	f.bytesSeen += int64(len(*out))
	if f.maxSize > 0 && f.bytesSeen > f.maxSize {
		f.sizeExceeded = true
	}
}

// bdatFramer delivers exactly N bytes verbatim, per spec.md §4.5's BDAT
// rule ("No dot-unstuffing"). received tracks only this chunk's own byte
// count, separate from the transaction-wide total the dataFramer keeps,
// so the per-chunk acknowledgement reply reports this chunk's size.
type bdatFramer struct {
	remaining int64
	received  int64
	last      bool
}

func newBdatFramer(n int64, last bool) *bdatFramer {
	return &bdatFramer{remaining: n, last: last}
}

// feed consumes up to f.remaining bytes from buf and returns the chunk
// plus any bytes left over once the chunk is exhausted (pipelined input).
func (f *bdatFramer) feed(buf []byte) (chunk []byte, done bool, trailing []byte) {
	if int64(len(buf)) <= f.remaining {
		f.remaining -= int64(len(buf))
		f.received += int64(len(buf))
		return buf, f.remaining == 0, nil
	}
	chunk = buf[:f.remaining]
	trailing = buf[f.remaining:]
	f.received += int64(len(chunk))
	f.remaining = 0
	return chunk, true, trailing
}
