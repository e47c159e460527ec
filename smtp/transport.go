package smtp

import (
	"bufio"
	"crypto/tls"
	"net"
	"time"
)

// SecurityInfo describes the TLS state of a connection (spec.md §6
// "security_info()").
type SecurityInfo struct {
	Secure   bool
	Cipher   uint16
	Protocol uint16
	Peer     []byte // raw leaf certificate, if any
}

// Transport is the byte-stream endpoint the engine consumes, kept external
// per spec.md §1 ("Transport ... providing send, close, start_tls, security
// info, and addressing"). It is intentionally narrow: the engine never
// reaches into net.Conn directly so that tests can substitute an in-memory
// implementation.
type Transport interface {
	// Send writes bytes and blocks until the write completes or fails.
	Send(b []byte) error
	// Close closes the underlying connection. Idempotent.
	Close() error
	// StartTLS upgrades the connection in place. On success, subsequent
	// reads/writes flow over the new TLS session.
	StartTLS(cfg *tls.Config) error
	// SecurityInfo reports the current TLS state.
	SecurityInfo() SecurityInfo
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
	IsSecure() bool
	// SetDeadline arms the next read/write deadline; a zero Time disarms it.
	SetDeadline(t time.Time) error
	// Read pulls whatever is immediately available (up to len(p) bytes).
	// The engine's framers, not Transport, decide how to interpret them.
	Read(p []byte) (int, error)
	// writeString is the Reply-rendering convenience used by reply.go.
	writeString(s string) error
}

// netTransport is the default Transport over a net.Conn, grounded on the
// teacher's conn wrapper in smtp/smtp.go (the c/br pair rebuilt on
// STARTTLS).
type netTransport struct {
	conn net.Conn
	br   *bufio.Reader
}

// NewNetTransport wraps c as a Transport.
func NewNetTransport(c net.Conn) *netTransport {
	return &netTransport{conn: c, br: bufio.NewReaderSize(c, 4096)}
}

func (t *netTransport) Send(b []byte) error {
	_, err := t.conn.Write(b)
	return err
}

func (t *netTransport) writeString(s string) error {
	return t.Send([]byte(s))
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}

func (t *netTransport) StartTLS(cfg *tls.Config) error {
	tlsConn := tls.Server(t.conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	t.conn = tlsConn
	t.br = bufio.NewReaderSize(tlsConn, 4096)
	return nil
}

func (t *netTransport) SecurityInfo() SecurityInfo {
	tlsConn, ok := t.conn.(*tls.Conn)
	if !ok {
		return SecurityInfo{Secure: false}
	}
	st := tlsConn.ConnectionState()
	info := SecurityInfo{Secure: true, Cipher: st.CipherSuite, Protocol: uint16(st.Version)}
	if len(st.PeerCertificates) > 0 {
		info.Peer = st.PeerCertificates[0].Raw
	}
	return info
}

func (t *netTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }
func (t *netTransport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }

func (t *netTransport) IsSecure() bool {
	_, ok := t.conn.(*tls.Conn)
	return ok
}

func (t *netTransport) SetDeadline(dl time.Time) error {
	return t.conn.SetDeadline(dl)
}

func (t *netTransport) Read(p []byte) (int, error) {
	return t.br.Read(p)
}
