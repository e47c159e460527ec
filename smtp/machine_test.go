package smtp

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// acceptAllHandler accepts every stage unconditionally, buffering message
// bytes so tests can assert on what the engine delivered.
type acceptAllHandler struct {
	messages [][]byte
	buf      []byte
}

func (h *acceptAllHandler) Connected(s ConnectedState)   { s.AcceptConnection("test server ready") }
func (h *acceptAllHandler) Hello(s HelloState, name string, extended bool) { s.AcceptHello() }
func (h *acceptAllHandler) MailFrom(s MailFromState, addr MailAddress, p DeliveryRequirements) {
	s.AcceptSender()
}
func (h *acceptAllHandler) RcptTo(s RcptToState, addr MailAddress, dsn RecipientDSN) {
	s.AcceptRecipient(addr)
}
func (h *acceptAllHandler) StartMessage(s MessageState) {
	h.buf = nil
	s.AcceptMessage()
}
func (h *acceptAllHandler) MessageContent(data []byte) {
	h.buf = append(h.buf, data...)
}
func (h *acceptAllHandler) MessageComplete(s MessageCompleteState) {
	h.messages = append(h.messages, h.buf)
	s.AcceptMessageDelivery("test-queue-id")
}
func (h *acceptAllHandler) Reset(s ResetState) { s.AcceptReset() }
func (h *acceptAllHandler) Disconnected()      {}

// dial spins up a Conn over a net.Pipe, with the given handler, and
// returns the client-side reader/writer the test script drives.
func dial(t *testing.T, h *acceptAllHandler, cfg Config) (*bufio.Reader, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	if cfg.Hostname == "" {
		cfg.Hostname = "mail.example.com"
	}
	srv, err := NewServer(cfg, nil, nil, func() Handler { return h })
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	conn := newConn(srv, NewNetTransport(serverSide), "1")
	go conn.serve()

	return bufio.NewReader(clientSide), clientSide
}

func sendLine(t *testing.T, w net.Conn, line string) {
	t.Helper()
	w.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := w.Write([]byte(line + "\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readReply(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		lines = append(lines, strings.TrimRight(line, "\r\n"))
		if len(line) >= 4 && line[3] == ' ' {
			break
		}
	}
	return strings.Join(lines, "\n")
}

func TestBasicSendScenario(t *testing.T) {
	Convey("A full EHLO/MAIL/RCPT/DATA/QUIT conversation is accepted", t, func() {
		h := &acceptAllHandler{}
		r, w := dial(t, h, Config{})
		defer w.Close()

		So(readReply(t, r), ShouldStartWith, "220")

		sendLine(t, w, "EHLO client.example.com")
		So(readReply(t, r), ShouldStartWith, "250")

		sendLine(t, w, "MAIL FROM:<alice@example.com>")
		So(readReply(t, r), ShouldStartWith, "250")

		sendLine(t, w, "RCPT TO:<bob@example.com>")
		So(readReply(t, r), ShouldStartWith, "250")

		sendLine(t, w, "DATA")
		So(readReply(t, r), ShouldStartWith, "354")

		sendLine(t, w, "Subject: hi")
		sendLine(t, w, "")
		sendLine(t, w, "..this line started with a stuffed dot")
		sendLine(t, w, ".")
		So(readReply(t, r), ShouldStartWith, "250")

		So(len(h.messages), ShouldEqual, 1)
		So(string(h.messages[0]), ShouldEqual, "Subject: hi\r\n\r\n.this line started with a stuffed dot\r\n")

		sendLine(t, w, "QUIT")
		So(readReply(t, r), ShouldStartWith, "221")
	})
}

func TestBdatRoundTrip(t *testing.T) {
	Convey("BDAT delivers verbatim bytes across two chunks ending with LAST", t, func() {
		h := &acceptAllHandler{}
		r, w := dial(t, h, Config{})
		defer w.Close()

		readReply(t, r)
		sendLine(t, w, "EHLO client.example.com")
		readReply(t, r)
		sendLine(t, w, "MAIL FROM:<alice@example.com>")
		readReply(t, r)
		sendLine(t, w, "RCPT TO:<bob@example.com>")
		readReply(t, r)

		body1 := "hello "
		w.Write([]byte("BDAT 6\r\n" + body1))
		So(readReply(t, r), ShouldStartWith, "250")

		body2 := "world"
		w.Write([]byte("BDAT 5 LAST\r\n" + body2))
		So(readReply(t, r), ShouldStartWith, "250")

		So(len(h.messages), ShouldEqual, 1)
		So(string(h.messages[0]), ShouldEqual, "hello world")
	})
}

func TestSMTPUTF8Enforcement(t *testing.T) {
	Convey("A non-ASCII MAIL FROM without SMTPUTF8 is rejected 553", t, func() {
		h := &acceptAllHandler{}
		r, w := dial(t, h, Config{})
		defer w.Close()

		readReply(t, r)
		sendLine(t, w, "EHLO client.example.com")
		readReply(t, r)

		sendLine(t, w, "MAIL FROM:<usér@example.com>")
		So(readReply(t, r), ShouldStartWith, "553")
	})
}

func TestBinaryMimeRequiresBdat(t *testing.T) {
	Convey("BODY=BINARYMIME followed by DATA is rejected 503", t, func() {
		h := &acceptAllHandler{}
		r, w := dial(t, h, Config{})
		defer w.Close()

		readReply(t, r)
		sendLine(t, w, "EHLO client.example.com")
		readReply(t, r)

		sendLine(t, w, "MAIL FROM:<alice@example.com> BODY=BINARYMIME")
		So(readReply(t, r), ShouldStartWith, "250")

		sendLine(t, w, "RCPT TO:<bob@example.com>")
		So(readReply(t, r), ShouldStartWith, "250")

		sendLine(t, w, "DATA")
		So(readReply(t, r), ShouldStartWith, "503")
	})
}

func TestRsetClearsTransactionState(t *testing.T) {
	Convey("RSET clears the envelope so a fresh MAIL FROM is required", t, func() {
		h := &acceptAllHandler{}
		r, w := dial(t, h, Config{})
		defer w.Close()

		readReply(t, r)
		sendLine(t, w, "EHLO client.example.com")
		readReply(t, r)
		sendLine(t, w, "MAIL FROM:<alice@example.com>")
		readReply(t, r)
		sendLine(t, w, "RCPT TO:<bob@example.com>")
		readReply(t, r)

		sendLine(t, w, "RSET")
		So(readReply(t, r), ShouldStartWith, "250")

		// RCPT before a fresh MAIL FROM must fail again.
		sendLine(t, w, "RCPT TO:<bob@example.com>")
		So(readReply(t, r), ShouldStartWith, "503")
	})
}
