package smtp

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func feedAll(f *dataFramer, chunks ...[]byte) ([]byte, bool, []byte) {
	var out []byte
	for _, c := range chunks {
		res := f.feed(c)
		out = append(out, res.chunk...)
		if res.terminated {
			return out, true, res.trailing
		}
	}
	return out, false, nil
}

func TestDataFramerDotUnstuffing(t *testing.T) {
	Convey("A plain message terminates on CRLF.CRLF", t, func() {
		f := newDataFramer(0)
		out, done, trailing := feedAll(f, []byte("hello\r\nworld\r\n.\r\n"))

		So(done, ShouldEqual, true)
		So(string(out), ShouldEqual, "hello\r\nworld\r\n")
		So(len(trailing), ShouldEqual, 0)
	})

	Convey("A doubled leading dot is unstuffed to a single dot", t, func() {
		f := newDataFramer(0)
		out, done, _ := feedAll(f, []byte("..aaa\r\n.\r\n"))

		So(done, ShouldEqual, true)
		So(string(out), ShouldEqual, ".aaa\r\n")
	})

	Convey("A lone leading dot not followed by CRLF is dropped, not the terminator", t, func() {
		f := newDataFramer(0)
		out, done, _ := feedAll(f, []byte(".not a terminator\r\n.\r\n"))

		So(done, ShouldEqual, true)
		So(string(out), ShouldEqual, "not a terminator\r\n")
	})

	Convey("A blank line in the body round-trips", t, func() {
		f := newDataFramer(0)
		out, done, _ := feedAll(f, []byte("line one\r\n\r\nline two\r\n.\r\n"))

		So(done, ShouldEqual, true)
		So(string(out), ShouldEqual, "line one\r\n\r\nline two\r\n")
	})

	Convey("Pipelined bytes after the terminator are returned as trailing", t, func() {
		f := newDataFramer(0)
		out, done, trailing := feedAll(f, []byte("body\r\n.\r\nMAIL FROM:<a@b>\r\n"))

		So(done, ShouldEqual, true)
		So(string(out), ShouldEqual, "body\r\n")
		So(string(trailing), ShouldEqual, "MAIL FROM:<a@b>\r\n")
	})

	Convey("A control sequence split across reads still resolves correctly", t, func() {
		f := newDataFramer(0)
		out, done, _ := feedAll(f, []byte("body\r"), []byte("\n.\r"), []byte("\n"))

		So(done, ShouldEqual, true)
		So(string(out), ShouldEqual, "body\r\n")
	})

	Convey("CRLF.CR followed by a non-LF byte is not a terminator and the dot is dropped", t, func() {
		f := newDataFramer(0)
		out, done, _ := feedAll(f, []byte("a\r\n.\rb\r\n.\r\n"))

		So(done, ShouldEqual, true)
		// the withheld dot is dropped; the withheld CR is reprocessed as a
		// fresh, lone CR and flushed ahead of "b".
		So(string(out), ShouldEqual, "a\r\n\rb\r\n")
	})

	Convey("Feeding the exact same bytes in different segment splits yields the same output", t, func() {
		whole := []byte("one\r\ntwo\r\n..three\r\n.\r\n")

		f1 := newDataFramer(0)
		out1, done1, _ := feedAll(f1, whole)

		f2 := newDataFramer(0)
		var chunks [][]byte
		for i := 0; i < len(whole); i++ {
			chunks = append(chunks, whole[i:i+1])
		}
		out2, done2, _ := feedAll(f2, chunks...)

		So(done1, ShouldEqual, true)
		So(done2, ShouldEqual, true)
		So(string(out1), ShouldEqual, string(out2))
	})
}

func TestBdatFramer(t *testing.T) {
	Convey("BDAT delivers exactly N bytes verbatim, no dot-unstuffing", t, func() {
		f := newBdatFramer(5, true)
		chunk, done, trailing := f.feed([]byte("..hi\nrest"))

		So(done, ShouldEqual, true)
		So(string(chunk), ShouldEqual, "..hi\n")
		So(string(trailing), ShouldEqual, "rest")
	})

	Convey("BDAT spanning multiple reads accumulates until remaining reaches zero", t, func() {
		f := newBdatFramer(6, false)

		chunk1, done1, _ := f.feed([]byte("abc"))
		So(done1, ShouldEqual, false)
		So(string(chunk1), ShouldEqual, "abc")

		chunk2, done2, _ := f.feed([]byte("def"))
		So(done2, ShouldEqual, true)
		So(string(chunk2), ShouldEqual, "def")
	})

	Convey("BDAT 0 LAST completes immediately with no bytes", t, func() {
		f := newBdatFramer(0, true)
		So(f.remaining, ShouldEqual, 0)
		So(f.last, ShouldEqual, true)
	})
}
