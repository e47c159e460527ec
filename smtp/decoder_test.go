package smtp

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDecodeLine(t *testing.T) {
	Convey("A simple command splits into verb and argument", t, func() {
		cmd, err := decodeLine("MAIL FROM:<example@example.com>", false)
		So(err, ShouldEqual, nil)
		So(cmd.Verb, ShouldEqual, "MAIL")
		So(cmd.Arg, ShouldEqual, "FROM:<example@example.com>")
	})

	Convey("A verb with no argument has an empty Arg", t, func() {
		cmd, err := decodeLine("QUIT", false)
		So(err, ShouldEqual, nil)
		So(cmd.Verb, ShouldEqual, "QUIT")
		So(cmd.Arg, ShouldEqual, "")
	})

	Convey("A non-ASCII byte outside SMTPUTF8 fails to decode", t, func() {
		_, err := decodeLine("NOOP \xc3\xa9", false)
		So(err, ShouldNotEqual, nil)
	})

	Convey("A MAIL line is always decoded as UTF-8, even before SMTPUTF8 is active", t, func() {
		cmd, err := decodeLine("MAIL FROM:<usér@example.com>", false)
		So(err, ShouldEqual, nil)
		So(cmd.Verb, ShouldEqual, "MAIL")
	})

	Convey("Verbs are upper-cased", t, func() {
		cmd, err := decodeLine("quit", false)
		So(err, ShouldEqual, nil)
		So(cmd.Verb, ShouldEqual, "QUIT")
	})
}
