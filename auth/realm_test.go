package auth

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/gopistolet/esmtpd/smtp"
)

func TestInMemoryRealm(t *testing.T) {
	Convey("Testing InMemoryRealm.AddAccount()", t, func() {
		r := NewInMemoryRealm([]string{smtp.MechPlain, smtp.MechLogin})

		err := r.AddAccount(Account{Name: "mathias", Email: smtp.MailAddress{Local: "mathias", Domain: "example.com"}, Password: "hunter2"})
		So(err, ShouldEqual, nil)

		err = r.AddAccount(Account{Name: "mathias"})
		So(err, ShouldNotEqual, nil)
	})

	Convey("Testing VerifyPlain()", t, func() {
		r := NewInMemoryRealm([]string{smtp.MechPlain})
		So(r.AddAccount(Account{
			Name:     "mathias",
			Email:    smtp.MailAddress{Local: "mathias", Domain: "example.com"},
			Password: "hunter2",
			Roles:    []string{"admin"},
		}), ShouldEqual, nil)

		principal, err := r.VerifyPlain(context.Background(), "", "mathias", "hunter2")
		So(err, ShouldEqual, nil)
		So(principal, ShouldEqual, "mathias@example.com")

		_, err = r.VerifyPlain(context.Background(), "", "mathias", "wrong")
		So(err, ShouldNotEqual, nil)
	})

	Convey("Testing Roles()", t, func() {
		r := NewInMemoryRealm(nil)
		So(r.AddAccount(Account{
			Name:  "postmaster",
			Email: smtp.MailAddress{Local: "postmaster", Domain: "example.com"},
			Roles: []string{"admin", "postmaster"},
		}), ShouldEqual, nil)

		roles := r.Roles(context.Background(), "postmaster@example.com")
		So(len(roles), ShouldEqual, 2)
	})
}
