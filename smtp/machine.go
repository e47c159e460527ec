package smtp

import (
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// serve is the connection goroutine body: one per accepted connection,
// the "dedicated task per connection" model of spec.md §5. It owns all
// mutable Conn state exclusively until it returns.
func (c *Conn) serve() {
	defer c.disconnect()

	if !c.greet() {
		return
	}

	for c.state != StateQuit {
		var err error
		switch c.state {
		case StateData:
			err = c.runDataPhase()
		case StateBdat:
			err = c.runBdatPhase()
		default:
			err = c.readAndDispatchCommand()
		}
		if err != nil {
			c.log.WithError(err).Debug("connection ending")
			return
		}
	}
}

func (c *Conn) disconnect() {
	c.transport.Close()
	if c.handler != nil {
		c.handler.Disconnected()
	}
}

// greet calls the Connected stage and writes the greeting or closes on
// rejection, per spec.md §4.8.
func (c *Conn) greet() bool {
	tok := newStageToken()
	c.handler.Connected(ConnectedState{stage: tok, id: c.id, remoteAddr: c.transport.RemoteAddr()})
	res := tok.await()
	if res.r.Message == "" && res.r.Code == 0 {
		res.r = reply(codeReady, "", c.server.config.Hostname+" ESMTP")
	}
	c.writeReply(res.r)
	if res.close {
		return false
	}
	return true
}

func (c *Conn) writeReply(r Reply) {
	if err := writeReply(c.transport, r); err != nil {
		c.log.WithError(err).Debug("write failed")
	}
}

// fill returns the next slice of available bytes, draining any bytes held
// over from a previous phase (pipelining, spec.md §4.4/§4.5) before
// issuing a new transport read.
func (c *Conn) fill() ([]byte, error) {
	if len(c.pending) > 0 {
		b := c.pending
		c.pending = nil
		return b, nil
	}
	c.transport.SetDeadline(c.nextDeadline())
	buf := make([]byte, 4096)
	n, err := c.transport.Read(buf)
	if err != nil {
		if isTimeout(err) {
			c.handleTimeout()
		}
		return nil, err
	}
	return buf[:n], nil
}

// isTimeout reports whether err is a deadline expiry, as opposed to a
// genuine connection error.
func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// handleTimeout writes the reply for an expired read deadline, per
// spec.md §5.3: idle between transactions closes politely with 221,
// mid-transaction closes with 421 4.4.2.
func (c *Conn) handleTimeout() {
	if c.state == StateInitial || c.state == StateReady {
		c.writeReply(reply(codeClosing, "2.0.0", "Idle timeout"))
		return
	}
	c.writeReply(reply(codeShuttingDown, "4.4.2", "Timeout"))
}

// readAndDispatchCommand reads exactly one command line (draining pending
// pipelined bytes first) and dispatches it. The line framer is inactive
// during DATA/BDAT per spec.md §4.1.
func (c *Conn) readAndDispatchCommand() error {
	for {
		chunk, err := c.fill()
		if err != nil {
			return err
		}
		for i := 0; i < len(chunk); i++ {
			line, ok, ferr := c.lineFramer.feed(chunk[i])
			if ferr != nil {
				c.pending = append([]byte{}, chunk[i+1:]...)
				c.writeReply(reply(codeSyntaxError, "", "Line too long"))
				return nil
			}
			if ok {
				c.pending = append([]byte{}, chunk[i+1:]...)
				c.dispatch(line)
				return nil
			}
		}
	}
}

// dispatch decodes and routes one command line per spec.md §4.2/§4.4.
func (c *Conn) dispatch(rawLine string) {
	if rawLine == "" {
		return
	}

	cmd, err := decodeLine(rawLine, c.smtputf8)
	if err != nil {
		c.writeReply(reply(codeSyntaxError, "5.5.2", "Syntax error, command unrecognized"))
		c.countUnknownCommand()
		return
	}

	c.server.metrics.CommandReceived(cmd.Verb)

	recognized := true
	switch cmd.Verb {
	case "HELO":
		c.handleHELO(cmd.Arg)
	case "EHLO":
		c.handleEHLO(cmd.Arg)
	case "MAIL":
		c.handleMAIL(rawLine, cmd.Arg)
	case "RCPT":
		c.handleRCPT(cmd.Arg)
	case "DATA":
		c.handleDATA()
	case "BDAT":
		c.handleBDAT(cmd.Arg)
	case "RSET":
		c.handleRSET()
	case "NOOP":
		c.writeReply(reply(codeOk, "", "OK"))
	case "HELP":
		c.writeReply(reply(codeOk, "", "See RFC 5321"))
	case "VRFY":
		c.writeReply(reply(codeCannotVrfy, "", "Cannot VRFY user, but will accept message"))
	case "EXPN":
		c.writeReply(reply(codeNotImplemented, "", "Command not implemented"))
	case "AUTH":
		c.handleAUTH(cmd.Arg)
	case "STARTTLS":
		c.handleSTARTTLS()
	case "XCLIENT":
		c.handleXCLIENT(cmd.Arg)
	case "QUIT":
		c.writeReply(reply(codeClosing, "", "Bye"))
		c.state = StateQuit
	default:
		recognized = false
		if c.state == StateRejected {
			c.writeReply(reply(codeTransactionFailed, "", "connection rejected"))
		} else {
			c.writeReply(reply(codeSyntaxError, "5.5.1", fmt.Sprintf("Command unrecognized: %q", cmd.Verb)))
		}
	}

	if recognized {
		c.unknownCommands = 0
		return
	}
	c.countUnknownCommand()
}

// countUnknownCommand implements spec.md §5.3's consecutive-unrecognized-
// command limit: once more than config.MaxUnknownCommands arrive in a row
// (0 disables this), the connection closes after the usual per-command
// reply to the last of them has been written.
func (c *Conn) countUnknownCommand() {
	limit := c.server.config.MaxUnknownCommands
	if limit <= 0 {
		return
	}
	c.unknownCommands++
	if c.unknownCommands > limit {
		c.state = StateQuit
	}
}

// --- HELO / EHLO ----------------------------------------------------------

func (c *Conn) handleHELO(arg string) {
	c.handleHello(arg, false)
}

func (c *Conn) handleEHLO(arg string) {
	c.handleHello(arg, true)
}

func (c *Conn) handleHello(arg string, extended bool) {
	if c.state == StateRejected {
		c.writeReply(reply(codeTransactionFailed, "", "connection rejected"))
		return
	}
	if c.state != StateInitial && c.state != StateReady {
		c.writeReply(reply(codeBadSequence, "5.0.0", ""))
		return
	}
	if arg == "" {
		verb := "HELO"
		if extended {
			verb = "EHLO"
		}
		c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "Domain/address argument required for "+verb))
		return
	}

	tok := newStageToken()
	c.handler.Hello(HelloState{stage: tok}, arg, extended)
	res := tok.await()

	if res.r.Code != 0 && res.r.Message != "" {
		c.writeReply(res.r)
		if res.close {
			c.state = StateQuit
		}
		return
	}

	c.resetSession()
	c.helloName = arg
	c.extendedMode = extended
	c.state = StateReady

	if !extended {
		c.writeReply(reply(codeOk, "", c.server.config.Hostname+" Hello "+arg))
		return
	}

	lines := append([]string{c.server.config.Hostname + " Hello " + arg}, c.capabilities()...)
	writeMultiLine(c.transport, codeOk, lines...)
}

// --- STARTTLS --------------------------------------------------------------

func (c *Conn) handleSTARTTLS() {
	if c.state == StateRejected {
		c.writeReply(reply(codeTransactionFailed, "", "connection rejected"))
		return
	}
	if c.state != StateInitial && c.state != StateReady {
		c.writeReply(reply(codeBadSequence, "5.0.0", ""))
		return
	}
	if c.isSecure() || c.starttlsUsed {
		c.writeReply(reply(codeNotImplemented, "", "Already running in TLS"))
		return
	}
	if !c.server.config.StartTLSAvailable || c.server.tlsConfig == nil {
		c.writeReply(reply(codeNotImplemented, "", "TLS not supported"))
		return
	}

	c.writeReply(reply(codeReady, "", "Ready to start TLS"))

	if err := c.startTLS(c.server.tlsConfig); err != nil {
		c.writeReply(reply(codeTLSNotAvailable, "4.3.0", "TLS handshake failed"))
		return
	}

	// Discard anything pipelined ahead of the handshake: plaintext bytes a
	// client sent in the same segment as STARTTLS must never be dispatched
	// as though they arrived over the now-encrypted channel.
	c.pending = nil
	c.starttlsUsed = true
	c.resetSession()
}

// --- AUTH --------------------------------------------------------------

func (c *Conn) handleAUTH(arg string) {
	if c.state == StateInitial {
		c.writeReply(reply(codeBadSequence, "", "AUTH requires EHLO"))
		return
	}
	if !c.extendedMode {
		c.writeReply(reply(codeBadSequence, "", "AUTH requires EHLO"))
		return
	}
	if c.state != StateReady {
		c.writeReply(reply(codeBadSequence, "5.0.0", ""))
		return
	}
	if c.server.realm == nil {
		c.writeReply(reply(codeNotImplemented, "", "AUTH not supported"))
		return
	}
	if c.authenticated {
		c.writeReply(reply(codeBadSequence, "5.5.1", "Already authenticated"))
		return
	}
	if arg == "" {
		c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "Missing mechanism"))
		return
	}

	fields := strings.Fields(arg)
	mechanism := strings.ToUpper(fields[0])

	var initial []byte
	if len(fields) > 1 {
		if fields[1] == "=" {
			initial = []byte{}
		} else {
			decoded, err := base64.StdEncoding.DecodeString(fields[1])
			if err != nil {
				c.writeReply(reply(codeSyntaxError, "5.5.2", "Invalid base64 data"))
				return
			}
			initial = decoded
		}
	}

	driver, err := newAuthSession(c.ctx(), c.server.realm, mechanism, c.isSecure(), c.server.config.Hostname)
	if err == errWeakMechanism {
		c.writeReply(reply(codeAuthMechWeak, "5.7.11", "Encryption required for requested authentication mechanism"))
		return
	}
	if err != nil {
		c.writeReply(reply(codeMechanismUnknown, "5.5.4", "Unrecognized authentication type"))
		return
	}

	c.driveAuth(mechanism, driver, initial, len(fields) > 1)
}

// driveAuth steps the SASL dialog to completion, per spec.md §4.6.
func (c *Conn) driveAuth(mechanism string, driver saslDriver, response []byte, hasInitial bool) {
	gotResponse := hasInitial

	for {
		var out authOutcome
		if !gotResponse {
			out = driver.next(nil)
			gotResponse = true
		} else {
			out = driver.next(response)
		}

		if out.err != nil {
			c.server.metrics.AuthFailure(mechanism)
			c.log.WithField("mechanism", mechanism).WithError(out.err).Warn("authentication failed")
			c.writeReply(reply(codeAuthFailed, "5.7.8", "Authentication failed"))
			c.auth = authNone
			return
		}

		if out.done {
			if len(out.challenge) > 0 {
				// Mechanism-final data (e.g. SCRAM's server signature):
				// send it, then read one confirming response line before
				// declaring success; its content is not checked.
				c.writeReply(reply(codeContinueAuth, "", base64.StdEncoding.EncodeToString(out.challenge)))
				line, err := c.readAuthLine()
				if err != nil {
					return
				}
				_ = line
			}
			c.server.metrics.AuthSuccess(mechanism)
			c.authenticated = true
			c.authenticatedUser = out.principal
			c.authMechanism = mechanism
			c.auth = authNone
			c.log.WithFields(logrus.Fields{"mechanism": mechanism, "principal": out.principal}).Debug("authentication succeeded")
			c.writeReply(reply(codeAuthSuccess, "2.7.0", "Authentication successful"))
			return
		}

		encoded := ""
		if len(out.challenge) > 0 {
			encoded = base64.StdEncoding.EncodeToString(out.challenge)
		}
		c.writeReply(reply(codeContinueAuth, "", encoded))

		line, err := c.readAuthLine()
		if err != nil {
			return
		}
		if line == "*" {
			c.writeReply(reply(codeAuthFailed, "5.7.8", "Authentication cancelled"))
			return
		}
		decoded, derr := base64.StdEncoding.DecodeString(line)
		if derr != nil {
			c.writeReply(reply(codeSyntaxError, "5.5.2", "Invalid base64 data"))
			return
		}
		response = decoded
	}
}

// readAuthLine reads one CRLF-terminated line mid-dialog, reusing the
// line framer (the AUTH dialog is still line-oriented even though it is
// not a normal command).
func (c *Conn) readAuthLine() (string, error) {
	for {
		chunk, err := c.fill()
		if err != nil {
			return "", err
		}
		for i := 0; i < len(chunk); i++ {
			line, ok, ferr := c.lineFramer.feed(chunk[i])
			if ferr != nil {
				continue
			}
			if ok {
				c.pending = append([]byte{}, chunk[i+1:]...)
				return line, nil
			}
		}
	}
}

// --- MAIL FROM -----------------------------------------------------------

func (c *Conn) handleMAIL(rawLine, arg string) {
	if c.state == StateRejected {
		c.writeReply(reply(codeTransactionFailed, "", "connection rejected"))
		return
	}
	if c.state != StateReady {
		c.writeReply(reply(codeBadSequence, "5.0.0", ""))
		return
	}

	cfg := c.server.config
	if cfg.MaxTransactionsPerSession > 0 && c.transactionCount >= cfg.MaxTransactionsPerSession {
		c.writeReply(reply(codeShuttingDown, "", "Too many transactions, closing connection"))
		c.transport.Close()
		c.state = StateQuit
		return
	}

	if cfg.RequireAuth && !c.authenticated {
		c.writeReply(reply(codeAuthRequired, "5.7.1", "Authentication required"))
		return
	}

	path, params, ok := c.parseMailArg(arg)
	if !ok {
		return
	}

	smtputf8 := params.SMTPUTF8
	// Parsed permissively first: whether non-ASCII is actually allowed here
	// is the dedicated SMTPUTF8 check below, not ParsePath's own gate.
	addr, err := ParsePath(path, true, true)
	if err != nil {
		c.writeReply(reply(codeSyntaxErrorParam, "5.1.3", "Invalid sender address format"))
		return
	}

	if !smtputf8 && lineHasNonASCII(rawLine) {
		c.writeReply(reply(553, "5.6.7", "SMTPUTF8 required"))
		c.resetTransaction()
		return
	}

	if params.Body == "BINARYMIME" && !c.extendedMode {
		c.writeReply(reply(codeBadSequence, "5.5.1", "BINARYMIME requires ESMTP"))
		return
	}

	if c.authenticated {
		if !c.authorizeSender(addr) {
			c.writeReply(reply(codeMailboxUnavail, "5.7.1", "Sender not authorized for authenticated user"))
			return
		}
	}

	tok := newStageToken()
	c.handler.MailFrom(MailFromState{stage: tok}, addr, params.Delivery)
	res := tok.await()

	if res.r.Code != codeOk {
		c.server.metrics.MessageRejected("mail", int(res.r.Code))
		c.log.WithField("code", res.r.Code).Warn("sender rejected")
		c.writeReply(res.r)
		return
	}

	c.sender = &addr
	c.hasSender = true
	c.recipients = nil
	c.dsnByRecipient = map[int]RecipientDSN{}
	c.smtputf8 = smtputf8
	c.bodyType = params.Body
	c.delivery = params.Delivery
	c.state = StateMail
	c.writeReply(res.r)
}

func (c *Conn) authorizeSender(addr MailAddress) bool {
	full := addr.String()
	if strings.EqualFold(c.authenticatedUser, full) || strings.EqualFold(c.authenticatedUser, addr.Local) {
		return true
	}
	for _, role := range c.server.realm.Roles(c.ctx(), c.authenticatedUser) {
		if role == "admin" || role == "postmaster" {
			return true
		}
	}
	return false
}

// parseMailArg splits "FROM:<addr> PARAM=VAL ..." and validates
// parameters, writing the appropriate reply itself on failure.
func (c *Conn) parseMailArg(arg string) (path string, params mailParams, ok bool) {
	upper := strings.ToUpper(arg)
	if !strings.HasPrefix(upper, "FROM:") {
		c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "Was expecting MAIL FROM:<address>"))
		return "", mailParams{}, false
	}
	rest := strings.TrimSpace(arg[len("FROM:"):])

	end := strings.IndexByte(rest, '>')
	var pathPart, paramPart string
	if strings.HasPrefix(rest, "<") && end != -1 {
		pathPart = rest[1:end]
		paramPart = strings.TrimSpace(rest[end+1:])
	} else {
		sp := strings.IndexByte(rest, ' ')
		if sp == -1 {
			pathPart = rest
		} else {
			pathPart = rest[:sp]
			paramPart = rest[sp+1:]
		}
	}

	tokens := splitParams(paramPart)
	p, err := parseMailParams(tokens, c.isSecure(), c.server.config.MaxMessageSize)
	if err != nil {
		c.rejectParamError(err)
		return "", mailParams{}, false
	}
	if !c.extendedMode && len(tokens) > 0 {
		c.writeReply(reply(codeBadSequence, "5.5.1", "ESMTP parameters require EHLO"))
		return "", mailParams{}, false
	}
	return pathPart, p, true
}

func (c *Conn) rejectParamError(err error) {
	switch e := err.(type) {
	case *sizeExceededError:
		c.writeReply(reply(codeExceededStorage, "5.3.4", e.Error()))
	case *requireTLSError:
		c.writeReply(reply(530, "5.7.10", e.Error()))
	case *paramError:
		c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", e.Error()))
	default:
		c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", err.Error()))
	}
}

// --- RCPT TO -------------------------------------------------------------

func (c *Conn) handleRCPT(arg string) {
	if c.state == StateRejected {
		c.writeReply(reply(codeTransactionFailed, "", "connection rejected"))
		return
	}
	if c.state != StateMail && c.state != StateRcpt {
		c.writeReply(reply(codeBadSequence, "5.5.1", "Need MAIL before RCPT"))
		return
	}

	cfg := c.server.config
	if cfg.MaxRecipients > 0 && len(c.recipients) >= cfg.MaxRecipients {
		c.writeReply(reply(452, "5.5.3", "Too many recipients"))
		return
	}

	upper := strings.ToUpper(arg)
	if !strings.HasPrefix(upper, "TO:") {
		c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "Was expecting RCPT TO:<address>"))
		return
	}
	rest := strings.TrimSpace(arg[len("TO:"):])

	end := strings.IndexByte(rest, '>')
	var pathPart, paramPart string
	if strings.HasPrefix(rest, "<") && end != -1 {
		pathPart = rest[1:end]
		paramPart = strings.TrimSpace(rest[end+1:])
	} else {
		sp := strings.IndexByte(rest, ' ')
		if sp == -1 {
			pathPart = rest
		} else {
			pathPart = rest[:sp]
			paramPart = rest[sp+1:]
		}
	}

	addr, err := ParsePath(pathPart, false, c.smtputf8)
	if err != nil {
		c.writeReply(reply(codeSyntaxErrorParam, "5.1.3", "Invalid recipient address format"))
		return
	}

	tokens := splitParams(paramPart)
	dsn, perr := parseRcptParams(tokens)
	if perr != nil {
		c.rejectParamError(perr)
		return
	}

	tok := newStageToken()
	c.handler.RcptTo(RcptToState{stage: tok}, addr, dsn)
	res := tok.await()

	if res.r.Code != codeOk && res.r.Code != codeForward {
		c.server.metrics.MessageRejected("rcpt", int(res.r.Code))
		c.log.WithField("code", res.r.Code).Warn("recipient rejected")
		c.writeReply(res.r)
		return
	}

	c.dsnByRecipient[len(c.recipients)] = dsn
	c.recipients = append(c.recipients, addr)
	c.state = StateRcpt
	c.writeReply(res.r)
}

// --- DATA ------------------------------------------------------------------

func (c *Conn) handleDATA() {
	if c.state == StateRejected {
		c.writeReply(reply(codeTransactionFailed, "", "connection rejected"))
		return
	}
	if c.state != StateRcpt {
		c.writeReply(reply(codeBadSequence, "5.5.1", "Need RCPT before DATA"))
		return
	}
	if c.bodyType == "BINARYMIME" {
		c.writeReply(reply(codeBadSequence, "5.6.1", "BINARYMIME requires BDAT"))
		return
	}

	tok := newStageToken()
	c.handler.StartMessage(MessageState{stage: tok})
	res := tok.await()
	if res.r.Code != codeStartData {
		c.writeReply(res.r)
		return
	}

	c.writeReply(res.r)
	c.dataFramer = newDataFramer(c.server.config.MaxMessageSize)
	c.lineFramer.reset()
	c.state = StateData
}

func (c *Conn) runDataPhase() error {
	for {
		chunk, err := c.fill()
		if err != nil {
			return err
		}
		res := c.dataFramer.feed(chunk)
		if len(res.chunk) > 0 && !c.dataFramer.sizeExceeded {
			c.handler.MessageContent(res.chunk)
		}
		if res.terminated {
			c.pending = res.trailing
			c.finishMessage()
			return nil
		}
	}
}

// finishMessage runs the message-complete stage for both DATA and the
// final BDAT chunk, per spec.md §4.5 step 3.
func (c *Conn) finishMessage() {
	c.state = StateReady

	if c.dataFramer != nil && c.dataFramer.sizeExceeded {
		c.writeReply(reply(codeExceededStorage, "5.3.4", "Message size exceeds fixed maximum message size"))
		c.resetTransaction()
		return
	}

	tok := newStageToken()
	c.handler.MessageComplete(MessageCompleteState{stage: tok})
	res := tok.await()

	if res.r.Code == codeOk {
		c.server.metrics.MessageAccepted(c.bodyType, int(c.dataFramer.bytesSeen))
		c.log.WithField("bytes", c.dataFramer.bytesSeen).Debug("message accepted")
	} else {
		c.server.metrics.MessageRejected("data", int(res.r.Code))
		c.log.WithField("code", res.r.Code).Warn("message rejected")
	}

	c.transactionCount++
	c.resetTransaction()
	c.writeReply(res.r)
}

// --- BDAT ------------------------------------------------------------------

func (c *Conn) handleBDAT(arg string) {
	if c.state == StateRejected {
		c.writeReply(reply(codeTransactionFailed, "", "connection rejected"))
		return
	}
	if c.state != StateRcpt && c.state != StateBdat {
		c.writeReply(reply(codeBadSequence, "5.5.1", "Need RCPT before BDAT"))
		return
	}
	if !c.extendedMode {
		c.writeReply(reply(codeBadSequence, "5.5.1", "BDAT requires ESMTP"))
		return
	}

	fields := strings.Fields(arg)
	if len(fields) == 0 {
		c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "BDAT requires a byte count"))
		return
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || n < 0 {
		c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "Invalid BDAT byte count"))
		return
	}
	last := len(fields) > 1 && strings.EqualFold(fields[1], "LAST")

	if c.server.config.MaxMessageSize > 0 {
		received := int64(0)
		if c.dataFramer != nil {
			received = c.dataFramer.bytesSeen
		}
		if received+n > c.server.config.MaxMessageSize {
			c.writeReply(reply(codeExceededStorage, "5.3.4", "Message size exceeds fixed maximum message size"))
			c.bdatFramer = nil
			c.resetTransaction()
			return
		}
	}

	if c.dataFramer == nil {
		c.dataFramer = newDataFramer(c.server.config.MaxMessageSize)
	}

	c.bdatFramer = newBdatFramer(n, last)
	c.state = StateBdat

	if n == 0 {
		c.finishBdatChunk()
	}
}

func (c *Conn) runBdatPhase() error {
	for c.bdatFramer.remaining > 0 {
		chunk, err := c.fill()
		if err != nil {
			return err
		}
		out, done, trailing := c.bdatFramer.feed(chunk)
		c.dataFramer.bytesSeen += int64(len(out))
		if len(out) > 0 {
			c.handler.MessageContent(out)
		}
		if done {
			c.pending = trailing
			break
		}
	}
	c.finishBdatChunk()
	return nil
}

func (c *Conn) finishBdatChunk() {
	last := c.bdatFramer != nil && c.bdatFramer.last
	received := int64(0)
	if c.bdatFramer != nil {
		received = c.bdatFramer.received
	}

	if !last {
		c.state = StateRcpt
		c.bdatFramer = nil
		c.writeReply(reply(codeOk, "2.0.0", fmt.Sprintf("%d bytes received", received)))
		return
	}

	c.bdatFramer = nil
	c.finishMessage()
}

// --- RSET ------------------------------------------------------------------

func (c *Conn) handleRSET() {
	if c.state == StateRejected {
		c.writeReply(reply(codeTransactionFailed, "", "connection rejected"))
		return
	}
	c.resetTransaction()

	tok := newStageToken()
	c.handler.Reset(ResetState{stage: tok})
	res := tok.await()
	c.writeReply(res.r)
}
