package config

import (
	"io/ioutil"
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoad(t *testing.T) {
	Convey("Testing Load()", t, func() {
		tmp, err := ioutil.TempFile("", "esmtpd-config-*.json")
		So(err, ShouldEqual, nil)
		defer os.Remove(tmp.Name())

		_, err = tmp.WriteString(`{
			"hostname": "mail.example.com",
			"port": 2525,
			"max_message_size": 10485760,
			"max_recipients": 100,
			"require_auth": true,
			"starttls_available": true,
			"xclient_allowed_nets": ["127.0.0.1/32"],
			"idle_timeout": "5m",
			"command_timeout": "30s"
		}`)
		So(err, ShouldEqual, nil)
		So(tmp.Close(), ShouldEqual, nil)

		_, cfg, err := Load(tmp.Name())
		So(err, ShouldEqual, nil)
		So(cfg.Hostname, ShouldEqual, "mail.example.com")
		So(cfg.Port, ShouldEqual, 2525)
		So(cfg.RequireAuth, ShouldEqual, true)
		So(len(cfg.XClientAllowedNets), ShouldEqual, 1)
	})

	Convey("Testing Load() with a missing file", t, func() {
		_, _, err := Load("/nonexistent/path.json")
		So(err, ShouldNotEqual, nil)
	})
}
