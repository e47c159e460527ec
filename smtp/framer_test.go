package smtp

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLineFramer(t *testing.T) {
	Convey("A CRLF-terminated line is emitted without the terminator", t, func() {
		f := newLineFramer()
		var got string
		for _, b := range []byte("EHLO example.com\r\n") {
			line, ok, err := f.feed(b)
			So(err, ShouldEqual, nil)
			if ok {
				got = line
			}
		}
		So(got, ShouldEqual, "EHLO example.com")
	})

	Convey("A line exceeding the octet limit raises ErrLineTooLong and resynchronizes", t, func() {
		f := newLineFramer()
		long := make([]byte, maxLineOctets+50)
		for i := range long {
			long[i] = 'x'
		}
		long = append(long, '\r', '\n')

		var sawErr error
		for _, b := range long {
			_, _, err := f.feed(b)
			if err != nil {
				sawErr = err
			}
		}
		So(sawErr, ShouldEqual, ErrLineTooLong)

		// the framer resynchronizes: the next line is parsed normally.
		var got string
		for _, b := range []byte("NOOP\r\n") {
			line, ok, err := f.feed(b)
			So(err, ShouldEqual, nil)
			if ok {
				got = line
			}
		}
		So(got, ShouldEqual, "NOOP")
	})
}
