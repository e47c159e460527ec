package smtp

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeRealm struct {
	secrets map[string][]byte
	plain   map[string]string
}

func (r *fakeRealm) Mechanisms() []string { return []string{MechPlain, MechCramMD5} }

func (r *fakeRealm) VerifyPlain(ctx context.Context, authzid, username, password string) (string, error) {
	if want, ok := r.plain[username]; ok && want == password {
		return username, nil
	}
	return "", errAuthFailed
}

func (r *fakeRealm) LookupSecret(ctx context.Context, username string) ([]byte, error) {
	if s, ok := r.secrets[username]; ok {
		return s, nil
	}
	return nil, errAuthFailed
}

func (r *fakeRealm) Roles(ctx context.Context, principal string) []string { return nil }

func TestCramMD5Driver(t *testing.T) {
	Convey("A correctly computed HMAC-MD5 digest authenticates", t, func() {
		realm := &fakeRealm{secrets: map[string][]byte{"mathias": []byte("hunter2")}}
		driver := newCramMD5Driver(context.Background(), realm, "mail.example.com")

		out := driver.next(nil)
		So(out.done, ShouldEqual, false)
		So(len(out.challenge) > 0, ShouldEqual, true)

		mac := hmac.New(md5.New, []byte("hunter2"))
		mac.Write(out.challenge)
		digest := hex.EncodeToString(mac.Sum(nil))

		final := driver.next([]byte("mathias " + digest))
		So(final.err, ShouldEqual, nil)
		So(final.done, ShouldEqual, true)
		So(final.principal, ShouldEqual, "mathias")
	})

	Convey("A wrong digest fails authentication", t, func() {
		realm := &fakeRealm{secrets: map[string][]byte{"mathias": []byte("hunter2")}}
		driver := newCramMD5Driver(context.Background(), realm, "mail.example.com")
		driver.next(nil)

		final := driver.next([]byte("mathias deadbeef"))
		So(final.err, ShouldNotEqual, nil)
	})
}

func TestNewAuthSessionDispatch(t *testing.T) {
	Convey("An unknown mechanism is rejected", t, func() {
		realm := &fakeRealm{}
		_, err := newAuthSession(context.Background(), realm, "MADE-UP", true, "mail.example.com")
		So(err, ShouldEqual, errUnknownMechanism)
	})

	Convey("PLAIN is refused on a cleartext channel", t, func() {
		realm := &fakeRealm{}
		_, err := newAuthSession(context.Background(), realm, MechPlain, false, "mail.example.com")
		So(err, ShouldEqual, errWeakMechanism)
	})

	Convey("LOGIN is refused on a cleartext channel", t, func() {
		realm := &fakeRealm{}
		_, err := newAuthSession(context.Background(), realm, MechLogin, false, "mail.example.com")
		So(err, ShouldEqual, errWeakMechanism)
	})

	Convey("SCRAM-SHA-256 does not require TLS since it never transmits the password", t, func() {
		realm := &fakeRealm{}
		_, err := newAuthSession(context.Background(), realm, MechScramSHA256, false, "mail.example.com")
		So(err, ShouldEqual, nil)
	})
}
