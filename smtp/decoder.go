package smtp

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ParseError carries the offending token from a decode/parse failure, per
// spec.md §9 ("sum-typed results with a ParseError variant").
type ParseError struct {
	Token string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q", e.Msg, e.Token)
}

// decodedCommand is the verb/argument split of one command line, per
// spec.md §4.2.
type decodedCommand struct {
	Verb string
	Arg  string
}

// decodeLine selects UTF-8 or strict US-ASCII decoding per spec.md §4.2:
// UTF-8 when the line's first four bytes are case-insensitively "MAIL", or
// when smtputf8 is already active for the current transaction; ASCII
// otherwise, where any byte above 0x7F fails decoding.
func decodeLine(line string, smtputf8Active bool) (decodedCommand, error) {
	isMail := len(line) >= 4 && strings.EqualFold(line[:4], "MAIL")

	if !isMail && !smtputf8Active {
		for i := 0; i < len(line); i++ {
			if line[i] > 0x7f {
				return decodedCommand{}, &ParseError{Token: line, Msg: "non-ASCII byte outside SMTPUTF8"}
			}
		}
	} else {
		if !utf8.ValidString(line) {
			return decodedCommand{}, &ParseError{Token: line, Msg: "invalid UTF-8"}
		}
	}

	sp := strings.IndexByte(line, ' ')
	if sp == -1 {
		return decodedCommand{Verb: strings.ToUpper(strings.TrimSpace(line))}, nil
	}

	return decodedCommand{
		Verb: strings.ToUpper(line[:sp]),
		Arg:  strings.TrimSpace(line[sp+1:]),
	}, nil
}

// lineHasNonASCII re-checks the raw line bytes, used by the MAIL handler to
// enforce spec.md §4.2's "after the parameters are parsed, if SMTPUTF8 was
// *not* selected, the engine re-checks the original line".
func lineHasNonASCII(line string) bool {
	for i := 0; i < len(line); i++ {
		if line[i] > 0x7f {
			return true
		}
	}
	return false
}
