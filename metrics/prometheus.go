// Package metrics implements smtp.Metrics with Prometheus counters,
// grounded on the pack's use of github.com/prometheus/client_golang for
// process telemetry.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is a smtp.Metrics sink registering five counter vectors, one
// per telemetry event named in spec.md §5.
type Prometheus struct {
	commands *prometheus.CounterVec
	authOK   *prometheus.CounterVec
	authFail *prometheus.CounterVec
	accepted *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

// NewPrometheus builds and registers the counter vectors against reg. Pass
// prometheus.DefaultRegisterer for the global registry.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esmtpd_commands_total",
			Help: "SMTP commands received, by verb.",
		}, []string{"verb"}),
		authOK: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esmtpd_auth_success_total",
			Help: "Successful AUTH exchanges, by mechanism.",
		}, []string{"mechanism"}),
		authFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esmtpd_auth_failure_total",
			Help: "Failed AUTH exchanges, by mechanism.",
		}, []string{"mechanism"}),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esmtpd_messages_accepted_total",
			Help: "Messages accepted for delivery, by body type.",
		}, []string{"body_type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esmtpd_messages_rejected_total",
			Help: "Envelope/message rejections, by stage and reply code.",
		}, []string{"stage", "code"}),
	}
	reg.MustRegister(p.commands, p.authOK, p.authFail, p.accepted, p.rejected)
	return p
}

func (p *Prometheus) CommandReceived(verb string) {
	p.commands.WithLabelValues(verb).Inc()
}

func (p *Prometheus) AuthSuccess(mechanism string) {
	p.authOK.WithLabelValues(mechanism).Inc()
}

func (p *Prometheus) AuthFailure(mechanism string) {
	p.authFail.WithLabelValues(mechanism).Inc()
}

func (p *Prometheus) MessageAccepted(bodyType string, bytes int) {
	p.accepted.WithLabelValues(bodyType).Inc()
}

func (p *Prometheus) MessageRejected(stage string, code int) {
	p.rejected.WithLabelValues(stage, strconv.Itoa(code)).Inc()
}
