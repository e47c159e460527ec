package smtp

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParseMailParams(t *testing.T) {
	Convey("SIZE, BODY and SMTPUTF8 parse together", t, func() {
		p, err := parseMailParams(splitParams("SIZE=1024 BODY=8BITMIME SMTPUTF8"), true, 0)
		So(err, ShouldEqual, nil)
		So(p.Size, ShouldEqual, 1024)
		So(p.Body, ShouldEqual, "8BITMIME")
		So(p.SMTPUTF8, ShouldEqual, true)
	})

	Convey("SIZE above the configured maximum is rejected", t, func() {
		_, err := parseMailParams(splitParams("SIZE=2000"), true, 1000)
		So(err, ShouldNotEqual, nil)
		_, ok := err.(*sizeExceededError)
		So(ok, ShouldEqual, true)
	})

	Convey("REQUIRETLS without an active TLS session is rejected", t, func() {
		_, err := parseMailParams(splitParams("REQUIRETLS"), false, 0)
		So(err, ShouldNotEqual, nil)
		_, ok := err.(*requireTLSError)
		So(ok, ShouldEqual, true)
	})

	Convey("An unrecognized parameter is rejected by name", t, func() {
		_, err := parseMailParams(splitParams("BOGUS=1"), true, 0)
		So(err, ShouldNotEqual, nil)
	})

	Convey("ENVID is xtext-decoded", t, func() {
		p, err := parseMailParams(splitParams("ENVID=abc+2Bdef"), true, 0)
		So(err, ShouldEqual, nil)
		So(p.Delivery.EnvelopeID, ShouldEqual, "abc+def")
	})
}

func TestParseRcptParams(t *testing.T) {
	Convey("NOTIFY accepts a comma-separated keyword set", t, func() {
		dsn, err := parseRcptParams(splitParams("NOTIFY=SUCCESS,FAILURE"))
		So(err, ShouldEqual, nil)
		So(dsn.Notify["SUCCESS"], ShouldEqual, true)
		So(dsn.Notify["FAILURE"], ShouldEqual, true)
	})

	Convey("NOTIFY=NEVER must be exclusive", t, func() {
		_, err := parseRcptParams(splitParams("NOTIFY=NEVER,SUCCESS"))
		So(err, ShouldNotEqual, nil)
	})

	Convey("ORCPT requires a type;address pair", t, func() {
		dsn, err := parseRcptParams(splitParams("ORCPT=rfc822;user@example.com"))
		So(err, ShouldEqual, nil)
		So(dsn.ORCPTType, ShouldEqual, "rfc822")
		So(dsn.ORCPTAddress, ShouldEqual, "user@example.com")
	})
}
