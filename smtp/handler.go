package smtp

import "net"

// Handler is the staged application callback set spec.md §1 calls "a
// staged handler that decides acceptance/rejection at each stage and
// receives message bytes." Every method hands the application a one-shot
// stage token (spec.md §9): calling exactly one accept/reject verb on it
// produces the engine's single reply for that stage.
type Handler interface {
	Connected(ConnectedState)
	Hello(HelloState, name string, extended bool)
	MailFrom(MailFromState, addr MailAddress, params DeliveryRequirements)
	RcptTo(RcptToState, addr MailAddress, dsn RecipientDSN)
	StartMessage(MessageState)
	MessageContent(data []byte)
	MessageComplete(MessageCompleteState)
	Reset(ResetState)
	Disconnected()
}

// ConnectedState is handed out once per accepted connection.
type ConnectedState struct {
	stage      *stageToken
	id         string
	remoteAddr net.Addr
}

func (s ConnectedState) ConnID() string { return s.id }

// RemoteAddr is the peer address, per spec.md §6's transport
// `remote_address()` surfaced to the Connected stage.
func (s ConnectedState) RemoteAddr() string { return remoteAddrString(s.remoteAddr) }

func (s ConnectedState) AcceptConnection(greeting string) {
	s.stage.resolve(reply(codeReady, "", greeting))
}

func (s ConnectedState) RejectConnection(msg string) {
	s.stage.resolveAndClose(reply(codeTransactionFailed, "5.0.0", msg))
}

// HelloState gates the HELO/EHLO decision.
type HelloState struct{ stage *stageToken }

func (s HelloState) AcceptHello() {
	s.stage.resolve(Reply{}) // engine renders the full capability list itself
}

func (s HelloState) RejectHello(msg string) {
	s.stage.resolve(reply(codeMailboxUnavail, "5.0.0", msg))
}

func (s HelloState) RejectHelloTemporary(msg string) {
	s.stage.resolve(reply(codeShuttingDown, "4.3.0", msg))
}

func (s HelloState) ServerShuttingDown() {
	s.stage.resolveAndClose(reply(codeShuttingDown, "4.3.0", "Server shutting down"))
}

// MailFromState gates MAIL FROM acceptance (spec.md §4.8 table).
type MailFromState struct{ stage *stageToken }

func (s MailFromState) AcceptSender() {
	s.stage.resolve(reply(codeOk, "2.1.0", "Sender ok"))
}

func (s MailFromState) RejectSenderGreylist() {
	s.stage.resolve(reply(codeGreylist, "4.7.1", "Greylisting in effect, please try again later"))
}

func (s MailFromState) RejectSenderRateLimit() {
	s.stage.resolve(reply(codeGreylist, "4.7.1", "Rate limit exceeded, please try again later"))
}

func (s MailFromState) RejectSenderStorageFull() {
	s.stage.resolve(reply(codeStorageFull, "4.3.1", "Insufficient system storage"))
}

func (s MailFromState) RejectSenderBlockedDomain() {
	s.stage.resolve(reply(codeMailboxUnavail, "5.1.1", "Sender domain blocked"))
}

func (s MailFromState) RejectSenderInvalidDomain() {
	s.stage.resolve(reply(codeMailboxUnavail, "5.1.1", "Sender domain does not exist"))
}

func (s MailFromState) RejectSenderPolicy(msg string) {
	s.stage.resolve(reply(codeMailboxNameNotOk, "5.7.1", msg))
}

func (s MailFromState) RejectSenderSpam() {
	s.stage.resolve(reply(codeTransactionFailed, "5.7.1", "Sender has poor reputation"))
}

func (s MailFromState) RejectSenderSyntax() {
	s.stage.resolve(reply(codeSyntaxErrorParam, "5.1.3", "Invalid sender address format"))
}

// RcptToState gates RCPT TO acceptance.
type RcptToState struct{ stage *stageToken }

func (s RcptToState) AcceptRecipient(addr MailAddress) {
	s.stage.resolve(reply(codeOk, "2.1.5", addr.String()+"... Recipient ok"))
}

func (s RcptToState) AcceptRecipientForward(path string) {
	s.stage.resolve(reply(codeForward, "2.1.5", "User not local; will forward to "+path))
}

func (s RcptToState) RejectRecipientTemporary(msg string) {
	s.stage.resolve(reply(codeGreylist, "4.5.1", msg))
}

func (s RcptToState) RejectRecipientStorageFull(msg string) {
	s.stage.resolve(reply(codeStorageFull, "4.2.2", msg))
}

func (s RcptToState) RejectRecipientUnknown() {
	s.stage.resolve(reply(codeMailboxUnavail, "5.1.1", "No such user here"))
}

func (s RcptToState) RejectRecipientNotLocal(path string) {
	s.stage.resolve(reply(codeUserNotLocal, "5.1.6", "User not local; please try "+path))
}

func (s RcptToState) RejectRecipientStorageExceeded() {
	s.stage.resolve(reply(codeExceededStorage, "5.2.2", "Mailbox full"))
}

// MessageState gates entry into DATA (silent for BDAT, per spec.md §4.8).
type MessageState struct{ stage *stageToken }

func (s MessageState) AcceptMessage() {
	s.stage.resolve(reply(codeStartData, "", "Start mail input; end with <CRLF>.<CRLF>"))
}

func (s MessageState) RejectMessagePolicy(msg string) {
	s.stage.resolve(reply(codeMailboxNameNotOk, "5.7.1", msg))
}

// MessageCompleteState gates acceptance/rejection of a fully received
// message body, per spec.md §4.8.
type MessageCompleteState struct{ stage *stageToken }

func (s MessageCompleteState) AcceptMessageDelivery(queueID string) {
	msg := "Message accepted for delivery"
	if queueID != "" {
		msg = msg + " [" + queueID + "]"
	}
	s.stage.resolve(reply(codeOk, "2.0.0", msg))
}

func (s MessageCompleteState) RejectMessageTemporary(msg string) {
	s.stage.resolve(reply(codeGreylist, "4.0.0", msg))
}

func (s MessageCompleteState) RejectMessagePermanent(msg string) {
	s.stage.resolve(reply(codeMailboxUnavail, "5.0.0", msg))
}

func (s MessageCompleteState) RejectMessagePolicy(msg string) {
	s.stage.resolve(reply(codeMailboxNameNotOk, "5.7.1", msg))
}

// ResetState gates RSET acknowledgement.
type ResetState struct{ stage *stageToken }

func (s ResetState) AcceptReset() {
	s.stage.resolve(reply(codeOk, "2.0.0", "Reset OK"))
}

// stageToken guarantees a single reply per stage (spec.md §9: "a small
// object per phase that is consumed on the first accept/reject call").
// resolved delivers the chosen Reply back to the connection goroutine that
// is blocked waiting for it.
type stageToken struct {
	ch   chan stageResult
	used bool
}

type stageResult struct {
	r     Reply
	close bool
}

func newStageToken() *stageToken {
	return &stageToken{ch: make(chan stageResult, 1)}
}

func (t *stageToken) resolve(r Reply) {
	if t.used {
		return // a late call from a handler that already replied is a no-op
	}
	t.used = true
	t.ch <- stageResult{r: r}
}

func (t *stageToken) resolveAndClose(r Reply) {
	if t.used {
		return
	}
	t.used = true
	t.ch <- stageResult{r: r, close: true}
}

func (t *stageToken) await() stageResult {
	return <-t.ch
}

// remoteAddrString is a small convenience used when building ConnectedState.
func remoteAddrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
