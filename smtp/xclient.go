package smtp

import (
	"net"
	"strconv"
	"strings"
)

// handleXCLIENT implements the Postfix XCLIENT trust-delegation command
// (spec.md §4.7): a proxy or content filter in front of the engine
// re-asserts the real client's identity, and the engine resets to INITIAL
// and re-greets as if that client had just connected.
func (c *Conn) handleXCLIENT(arg string) {
	if c.state == StateRejected {
		c.writeReply(reply(codeTransactionFailed, "", "connection rejected"))
		return
	}
	if !c.server.xclientAuthorized(c.transport.RemoteAddr()) {
		c.writeReply(reply(codeMailboxUnavail, "5.7.0", "XCLIENT not authorized from this address"))
		return
	}
	if c.hasSender || len(c.recipients) > 0 {
		c.writeReply(reply(codeBadSequence, "5.5.1", "XCLIENT not permitted mid-transaction"))
		return
	}
	if arg == "" {
		c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "XCLIENT requires attributes"))
		return
	}

	overrides := c.xclient
	for _, field := range strings.Fields(arg) {
		eq := strings.IndexByte(field, '=')
		if eq < 0 {
			c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "Malformed XCLIENT attribute "+field))
			return
		}
		key := strings.ToUpper(field[:eq])
		val := field[eq+1:]

		// "[UNAVAILABLE]" and "[TEMPUNAVAIL]" both mean "no value known";
		// the field is cleared rather than set, per spec.md §4.7.
		unknown := val == "[UNAVAILABLE]" || val == "[TEMPUNAVAIL]"

		switch key {
		case "NAME":
			if unknown {
				overrides.ClientName = ""
			} else {
				overrides.ClientName = val
			}
		case "ADDR":
			if unknown {
				overrides.ClientAddr = nil
			} else {
				ip := net.ParseIP(val)
				if ip == nil {
					c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "Invalid XCLIENT ADDR"))
					return
				}
				overrides.ClientAddr = ip
			}
		case "PORT":
			if unknown {
				overrides.ClientPort = 0
			} else {
				p, err := strconv.Atoi(val)
				if err != nil {
					c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "Invalid XCLIENT PORT"))
					return
				}
				overrides.ClientPort = p
			}
		case "PROTO":
			up := strings.ToUpper(val)
			if up != "SMTP" && up != "ESMTP" {
				c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "XCLIENT PROTO must be SMTP or ESMTP"))
				return
			}
			overrides.Proto = up
		case "HELO":
			if unknown {
				overrides.Helo = ""
			} else {
				overrides.Helo = val
			}
		case "LOGIN":
			if unknown || val == "" {
				overrides.Login = ""
				overrides.HasLogin = false
				c.authenticated = false
				c.authenticatedUser = ""
			} else {
				overrides.Login = val
				overrides.HasLogin = true
				c.authenticated = true
				c.authenticatedUser = val
			}
		case "DESTADDR":
			if unknown {
				overrides.DestAddr = nil
			} else {
				ip := net.ParseIP(val)
				if ip == nil {
					c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "Invalid XCLIENT DESTADDR"))
					return
				}
				overrides.DestAddr = ip
			}
		case "DESTPORT":
			if unknown {
				overrides.DestPort = 0
			} else {
				p, err := strconv.Atoi(val)
				if err != nil {
					c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "Invalid XCLIENT DESTPORT"))
					return
				}
				overrides.DestPort = p
			}
		default:
			c.writeReply(reply(codeSyntaxErrorParam, "5.5.4", "Unknown XCLIENT attribute "+key))
			return
		}
	}

	c.xclient = overrides
	// resetSession always drops extended_mode back to false even when PROTO
	// was ESMTP: spec.md §9 leaves open whether it should carry over, and
	// "client must re-EHLO" (§4.7) reads as the stronger requirement. The
	// negotiated PROTO is kept on c.xclient for the handler to inspect.
	c.resetSession()
	c.writeReply(reply(codeReady, "", c.server.config.Hostname+" ESMTP"))
}
