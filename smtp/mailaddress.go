package smtp

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// MailAddress is an envelope address (the angle-bracket path after MAIL
// FROM: or RCPT TO:), adapted from the teacher's smtp/mailaddress.go. The
// teacher's DNS-backed ValidateDomainAddress/HasReverseDns helpers are
// dropped: spec.md scopes DNS/MX lookup out of the core engine.
type MailAddress struct {
	Local  string
	Domain string
}

// String renders the address the way it appears inside a reply, e.g. in
// "250 2.1.5 <addr>... Recipient ok".
func (m MailAddress) String() string {
	if m.Local == "" && m.Domain == "" {
		return ""
	}
	return m.Local + "@" + m.Domain
}

// IsNull reports whether this is the bounce/null sender ("MAIL FROM:<>").
func (m MailAddress) IsNull() bool {
	return m.Local == "" && m.Domain == ""
}

// Validate enforces the RFC 5321 §4.5.3.1 length limits, unchanged from the
// teacher's smtp/mailaddress.go Validate().
func (m MailAddress) Validate() (bool, string) {
	if len(m.Local) > 64 {
		return false, "Local too long"
	}
	if len(m.Domain) > 253 {
		return false, "Domain too long"
	}
	if len(m.Local)+len(m.Domain) > 254 {
		return false, "MailAddress too long"
	}
	return true, ""
}

var errEmptyPath = errors.New("empty path")

// ParsePath parses the content between angle brackets of a MAIL FROM or
// RCPT TO path. allowNull permits the bounce sender ("<>"); smtputf8 allows
// non-ASCII local-parts. A non-ASCII domain is converted to its ASCII form
// via golang.org/x/net/idna whenever that succeeds; when it fails, the
// domain is rejected without smtputf8 and kept as given with it.
func ParsePath(path string, allowNull, smtputf8 bool) (MailAddress, error) {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "<")
	path = strings.TrimSuffix(path, ">")

	if path == "" {
		if allowNull {
			return MailAddress{}, nil
		}
		return MailAddress{}, errEmptyPath
	}

	// Strip any source-route prefix ("@a,@b:user@domain"), RFC 5321 §4.1.1.2.
	if idx := strings.LastIndex(path, ":"); idx != -1 && strings.HasPrefix(path, "@") {
		path = path[idx+1:]
	}

	at := strings.LastIndex(path, "@")
	if at < 0 {
		// "postmaster" without a domain is explicitly required by RFC 5321 §4.5.1.
		if strings.EqualFold(path, "postmaster") {
			return MailAddress{Local: path}, nil
		}
		return MailAddress{}, fmt.Errorf("missing '@' in path %q", path)
	}

	local := path[:at]
	domain := path[at+1:]
	if local == "" || domain == "" {
		return MailAddress{}, fmt.Errorf("malformed path %q", path)
	}

	if !smtputf8 {
		for _, b := range []byte(local) {
			if b > 0x7f {
				return MailAddress{}, fmt.Errorf("non-ASCII local-part requires SMTPUTF8")
			}
		}
	}

	if hasNonASCII(domain) {
		normalized, err := idna.Lookup.ToASCII(domain)
		if err == nil {
			domain = normalized
		} else if !smtputf8 {
			return MailAddress{}, fmt.Errorf("invalid internationalized domain %q: %w", domain, err)
		}
		// Under SMTPUTF8 an unconvertible domain is still accepted verbatim;
		// idna is a normalization aid here, not a gate.
	}

	addr := MailAddress{Local: local, Domain: domain}
	if ok, msg := addr.Validate(); !ok {
		return MailAddress{}, errors.New(msg)
	}
	return addr, nil
}

func hasNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return true
		}
	}
	return false
}
