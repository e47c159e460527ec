package smtp

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the process-wide, read-only configuration surface of
// spec.md §6, adapted from the teacher's smtp.Config{Port, Hostname, Key,
// Cert}.
type Config struct {
	Hostname string
	Port     int

	CertFile string
	KeyFile  string

	MaxMessageSize            int64
	MaxRecipients             int
	MaxTransactionsPerSession int
	RequireAuth               bool
	StartTLSAvailable         bool
	XClientAllowedNets        []*net.IPNet

	IdleTimeout        time.Duration
	CommandTimeout     time.Duration
	MaxUnknownCommands int
}

// Metrics is the append-only telemetry sink of spec.md §5.
type Metrics interface {
	AuthSuccess(mechanism string)
	AuthFailure(mechanism string)
	CommandReceived(verb string)
	MessageAccepted(bodyType string, bytes int)
	MessageRejected(stage string, code int)
}

type noopMetrics struct{}

func (noopMetrics) AuthSuccess(string)          {}
func (noopMetrics) AuthFailure(string)          {}
func (noopMetrics) CommandReceived(string)      {}
func (noopMetrics) MessageAccepted(string, int) {}
func (noopMetrics) MessageRejected(string, int) {}

// Server is the accept loop and shared, read-only configuration for all
// connections, adapted from the teacher's smtp.Server.
type Server struct {
	config Config

	tlsConfig *tls.Config

	realm   Realm
	metrics Metrics
	log     *logrus.Logger

	handlerFactory func() Handler

	connSeq uint64
}

// NewServer builds a Server. handlerFactory is called once per accepted
// connection so each Handler instance has exclusive, non-reentrant access
// to its Conn (spec.md §5).
func NewServer(config Config, realm Realm, metrics Metrics, handlerFactory func() Handler) (*Server, error) {
	srv := &Server{
		config:         config,
		realm:          realm,
		metrics:        metrics,
		log:            logrus.StandardLogger(),
		handlerFactory: handlerFactory,
	}
	if srv.metrics == nil {
		srv.metrics = noopMetrics{}
	}

	if config.CertFile != "" && config.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS keypair: %w", err)
		}
		srv.tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	return srv, nil
}

// ListenAndServe binds config.Hostname:config.Port and serves forever,
// mirroring the teacher's Server.ListenAndServe.
func (srv *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", srv.config.Hostname, srv.config.Port))
	if err != nil {
		return err
	}
	return srv.Serve(ln)
}

// Serve accepts connections on ln, spawning one goroutine per connection
// (spec.md §5's "dedicated task per connection" model), unchanged in shape
// from the teacher's Server.Serve.
func (srv *Server) Serve(ln net.Listener) error {
	defer ln.Close()
	for {
		c, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				srv.log.WithError(err).Warn("temporary accept error")
				continue
			}
			return err
		}

		id := fmt.Sprintf("%d", atomic.AddUint64(&srv.connSeq, 1))
		conn := newConn(srv, NewNetTransport(c), id)
		go conn.serve()
	}
}

// capabilities lists the EHLO advertisement per spec.md §6, in the order
// given there.
func (c *Conn) capabilities() []string {
	cfg := c.server.config
	caps := []string{}

	if cfg.MaxMessageSize > 0 {
		caps = append(caps, fmt.Sprintf("SIZE %d", cfg.MaxMessageSize))
	}
	caps = append(caps, "PIPELINING", "8BITMIME", "SMTPUTF8", "ENHANCEDSTATUSCODES", "CHUNKING", "BINARYMIME", "DSN")
	caps = append(caps, fmt.Sprintf("LIMITS RCPTMAX=%d MAILMAX=%d", cfg.MaxRecipients, cfg.MaxTransactionsPerSession))

	if c.isSecure() {
		caps = append(caps, "REQUIRETLS")
	}

	caps = append(caps, "MT-PRIORITY MIXER STANAG4406 NSEP")
	caps = append(caps, "FUTURERELEASE 604800 2012-01-01T00:00:00Z")
	caps = append(caps, "DELIVERBY 604800")

	if c.server.xclientAuthorized(c.transport.RemoteAddr()) {
		caps = append(caps, "XCLIENT NAME ADDR PORT PROTO HELO LOGIN DESTADDR DESTPORT")
	}

	if cfg.StartTLSAvailable && c.server.tlsConfig != nil && !c.isSecure() && !c.starttlsUsed {
		caps = append(caps, "STARTTLS")
	}

	if c.server.realm != nil {
		mechs := c.server.realm.Mechanisms()
		if len(mechs) > 0 {
			line := "AUTH"
			for _, m := range mechs {
				line += " " + m
			}
			caps = append(caps, line)
		}
	}

	caps = append(caps, "HELP")
	return caps
}

// xclientAuthorized checks remote against the configured allow-list,
// per spec.md §4.7.
func (srv *Server) xclientAuthorized(remote net.Addr) bool {
	tcpAddr, ok := remote.(*net.TCPAddr)
	if !ok {
		return false
	}
	for _, n := range srv.config.XClientAllowedNets {
		if n.Contains(tcpAddr.IP) {
			return true
		}
	}
	return false
}
