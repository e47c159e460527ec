package main

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/gopistolet/esmtpd/auth"
	"github.com/gopistolet/esmtpd/config"
	"github.com/gopistolet/esmtpd/internal/maildirstore"
	"github.com/gopistolet/esmtpd/metrics"
	"github.com/gopistolet/esmtpd/smtp"
)

func main() {
	log := logrus.StandardLogger()

	configPath := "esmtpd.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	file, cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}

	var realm smtp.Realm
	if file.RealmFile != "" {
		r, err := auth.LoadRealmFile(file.RealmFile, []string{smtp.MechPlain, smtp.MechLogin, smtp.MechCramMD5})
		if err != nil {
			log.WithError(err).Fatal("loading realm file")
		}
		realm = r
	}

	maildirPath := file.MaildirPath
	if maildirPath == "" {
		maildirPath = "./Maildir"
	}
	store, err := maildirstore.Open(maildirPath)
	if err != nil {
		log.WithError(err).Fatal("opening maildir store")
	}

	metricsSink := metrics.NewPrometheus(prometheus.DefaultRegisterer)

	var seq uint64
	srv, err := smtp.NewServer(cfg, realm, metricsSink, func() smtp.Handler {
		return newDemoHandler(store, log.WithField("component", "demo-handler"), &seq)
	})
	if err != nil {
		log.WithError(err).Fatal("constructing server")
	}

	log.WithField("port", cfg.Port).Info("esmtpd starting")
	if err := srv.ListenAndServe(); err != nil {
		log.WithError(err).Fatal("serve failed")
	}
}
