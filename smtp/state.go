package smtp

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionState is one of the values named in spec.md §3.
type SessionState int

const (
	StateInitial SessionState = iota
	StateRejected
	StateReady
	StateMail
	StateRcpt
	StateData
	StateBdat
	StateQuit
)

func (s SessionState) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateRejected:
		return "REJECTED"
	case StateReady:
		return "READY"
	case StateMail:
		return "MAIL"
	case StateRcpt:
		return "RCPT"
	case StateData:
		return "DATA"
	case StateBdat:
		return "BDAT"
	case StateQuit:
		return "QUIT"
	default:
		return "UNKNOWN"
	}
}

// authState tracks whether a SASL dialog is in progress, per spec.md §3
// ("NONE or one of the per-mechanism interaction states"). The dialog
// itself runs synchronously inside driveAuth, so this only ever toggles
// back to NONE at completion.
type authState int

const (
	authNone authState = iota
)

// xclientOverrides holds the Postfix XCLIENT attribute overrides from
// spec.md §3/§4.7.
type xclientOverrides struct {
	ClientAddr net.IP
	ClientPort int
	DestAddr   net.IP
	DestPort   int
	ClientName string
	Helo       string
	Login      string
	HasLogin   bool
	Proto      string
}

// Conn is the per-connection context of spec.md §3: "one per connection,
// never shared across connections." It is the sole mutable state the
// engine's goroutine owns (spec.md §5).
type Conn struct {
	server    *Server
	transport Transport
	log       *logrus.Entry
	id        string

	state SessionState

	helloName    string
	extendedMode bool
	starttlsUsed bool

	sender         *MailAddress
	hasSender      bool
	recipients     []MailAddress
	dsnByRecipient map[int]RecipientDSN

	delivery DeliveryRequirements
	smtputf8 bool
	bodyType string

	dataFramer *dataFramer
	bdatFramer *bdatFramer

	auth          authState
	authMechanism string

	authenticatedUser string
	authenticated     bool

	xclient xclientOverrides

	lineFramer *lineFramer

	transactionCount int
	unknownCommands  int

	// pending holds bytes already read off the transport but not yet
	// consumed by the current phase (command line, DATA body, BDAT
	// chunk) — pipelined input carried across phase boundaries, per
	// spec.md §4.4/§4.5.
	pending []byte

	handler Handler
}

func newConn(srv *Server, t Transport, id string) *Conn {
	return &Conn{
		server:         srv,
		transport:      t,
		id:             id,
		log:            srv.log.WithField("conn_id", id),
		state:          StateInitial,
		lineFramer:     newLineFramer(),
		dsnByRecipient: map[int]RecipientDSN{},
		handler:        srv.handlerFactory(),
	}
}

// resetTransaction clears transaction-scoped fields, per spec.md §3
// invariant 3 and the "Session transactional reset" rule in §4.4. Session
// fields (hello, extended mode, authenticated, starttls) survive.
func (c *Conn) resetTransaction() {
	c.sender = nil
	c.hasSender = false
	c.recipients = nil
	c.dsnByRecipient = map[int]RecipientDSN{}
	c.delivery = DeliveryRequirements{}
	c.smtputf8 = false
	c.bodyType = "7BIT"
	c.dataFramer = nil
	c.bdatFramer = nil
	if c.state != StateInitial {
		c.state = StateReady
	}
}

// resetSession fully resets the connection to INITIAL, used after
// STARTTLS and XCLIENT (spec.md §4.1/§4.7).
func (c *Conn) resetSession() {
	c.resetTransaction()
	c.helloName = ""
	c.extendedMode = false
	c.state = StateInitial
	c.auth = authNone
}

func (c *Conn) isSecure() bool {
	return c.transport.IsSecure()
}

func (c *Conn) ctx() context.Context {
	return context.Background()
}

func (c *Conn) startTLS(cfg *tls.Config) error {
	return c.transport.StartTLS(cfg)
}

// nextDeadline picks the read deadline for the next transport.Read: idle
// timeout while no transaction is in progress, command timeout once one
// has started, per spec.md §5.3. A zero duration disarms the deadline.
func (c *Conn) nextDeadline() time.Time {
	d := c.server.config.CommandTimeout
	if c.state == StateInitial || c.state == StateReady {
		d = c.server.config.IdleTimeout
	}
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}
