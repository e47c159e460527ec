package smtp

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParsePath(t *testing.T) {
	Convey("A simple address parses into local and domain", t, func() {
		addr, err := ParsePath("<example.email@example.com>", false, false)
		So(err, ShouldEqual, nil)
		So(addr.Local, ShouldEqual, "example.email")
		So(addr.Domain, ShouldEqual, "example.com")
	})

	Convey("The null sender is accepted only when allowNull is true", t, func() {
		addr, err := ParsePath("<>", true, false)
		So(err, ShouldEqual, nil)
		So(addr.IsNull(), ShouldEqual, true)

		_, err = ParsePath("<>", false, false)
		So(err, ShouldNotEqual, nil)
	})

	Convey("A bare postmaster without a domain is accepted", t, func() {
		addr, err := ParsePath("<postmaster>", false, false)
		So(err, ShouldEqual, nil)
		So(addr.Local, ShouldEqual, "postmaster")
		So(addr.Domain, ShouldEqual, "")
	})

	Convey("A source-routed path has its route stripped", t, func() {
		addr, err := ParsePath("<@relay.example.com:user@example.com>", false, false)
		So(err, ShouldEqual, nil)
		So(addr.Local, ShouldEqual, "user")
		So(addr.Domain, ShouldEqual, "example.com")
	})

	Convey("A non-ASCII local-part is rejected without SMTPUTF8", t, func() {
		_, err := ParsePath("<useré@example.com>", false, false)
		So(err, ShouldNotEqual, nil)
	})

	Convey("A non-ASCII local-part is accepted with SMTPUTF8", t, func() {
		addr, err := ParsePath("<useré@example.com>", false, true)
		So(err, ShouldEqual, nil)
		So(addr.Local, ShouldEqual, "useré")
	})
}

func TestMailAddressString(t *testing.T) {
	Convey("String renders local@domain", t, func() {
		addr := MailAddress{Local: "a", Domain: "b.com"}
		So(addr.String(), ShouldEqual, "a@b.com")
	})

	Convey("An overlong local-part fails Validate", t, func() {
		long := make([]byte, 70)
		for i := range long {
			long[i] = 'a'
		}
		addr := MailAddress{Local: string(long), Domain: "example.com"}
		ok, _ := addr.Validate()
		So(ok, ShouldEqual, false)
	})
}
