package smtp

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	gosasl "github.com/emersion/go-sasl"
	"golang.org/x/crypto/pbkdf2"
)

// Realm is the authentication realm spec.md §1 calls an external
// collaborator: "credential verification and supported-mechanism
// enumeration."
type Realm interface {
	// Mechanisms lists the SASL mechanism names this realm can service,
	// advertised in EHLO's AUTH capability.
	Mechanisms() []string
	// VerifyPlain checks a PLAIN/LOGIN-style username+password pair and
	// returns the authorization principal on success.
	VerifyPlain(ctx context.Context, authzid, username, password string) (principal string, err error)
	// LookupSecret returns the shared secret for CRAM-MD5/DIGEST-MD5/
	// SCRAM-SHA-256 proof verification. Returning an error is equivalent
	// to "user does not exist" for the caller's purposes.
	LookupSecret(ctx context.Context, username string) (secret []byte, err error)
	// Roles reports realm roles for a principal (e.g. "admin",
	// "postmaster"), used by the sender-authorization check in §4.6.
	Roles(ctx context.Context, principal string) []string
}

// saslMechanism names, per spec.md §1 ("at minimum PLAIN and LOGIN, with
// hooks for challenge-response mechanisms").
const (
	MechPlain       = "PLAIN"
	MechLogin       = "LOGIN"
	MechCramMD5     = "CRAM-MD5"
	MechDigestMD5   = "DIGEST-MD5"
	MechScramSHA256 = "SCRAM-SHA-256"
	MechGSSAPI      = "GSSAPI"
	MechOAuthBearer = "OAUTHBEARER"
	MechExternal    = "EXTERNAL"
	MechNTLM        = "NTLM"
)

// authOutcome is what a driven SASL exchange reports back to the engine.
type authOutcome struct {
	challenge []byte
	done      bool
	principal string
	err       error
}

// saslDriver steps one mechanism's multi-round dialog. newAuthSession picks
// the concrete driver; the engine feeds it base64-decoded client responses
// one at a time and relays the resulting challenge as a "334 " reply, per
// spec.md §4.6.
type saslDriver interface {
	// next is called with the decoded client response (nil for the very
	// first call driven by an initial-response-less AUTH <mech>).
	next(response []byte) authOutcome
}

// goSaslDriver adapts github.com/emersion/go-sasl's Server interface
// (Next(response) (challenge, done, err)) to saslDriver; grounded on the
// dialog loop in the emersion/go-smtp reference Conn.authHandler, which
// drives exactly this shape.
type goSaslDriver struct {
	srv       gosasl.Server
	principal *string
}

func (d *goSaslDriver) next(response []byte) authOutcome {
	challenge, done, err := d.srv.Next(response)
	if err != nil {
		return authOutcome{err: err}
	}
	out := authOutcome{challenge: challenge, done: done}
	if done && d.principal != nil {
		out.principal = *d.principal
	}
	return out
}

// newAuthSession builds the driver for mechanism, or nil if unsupported.
// tlsActive gates mechanisms whose policy requires an encrypted channel
// (spec.md §4.6: "mechanisms whose policy requires TLS must be refused on
// cleartext with 538").
func newAuthSession(ctx context.Context, realm Realm, mechanism string, tlsActive bool, hostname string) (saslDriver, error) {
	switch strings.ToUpper(mechanism) {
	case MechPlain:
		if !tlsActive {
			return nil, errWeakMechanism
		}
		var principal string
		return &goSaslDriver{principal: &principal, srv: gosasl.NewPlainServer(func(identity, username, password string) error {
			if username == "" || password == "" {
				return errAuthFailed
			}
			p, err := realm.VerifyPlain(ctx, identity, username, password)
			if err != nil {
				return errAuthFailed
			}
			principal = p
			return nil
		})}, nil

	case MechLogin:
		if !tlsActive {
			return nil, errWeakMechanism
		}
		var principal string
		return &goSaslDriver{principal: &principal, srv: gosasl.NewLoginServer(func(username, password string) error {
			if username == "" || password == "" {
				return errAuthFailed
			}
			p, err := realm.VerifyPlain(ctx, "", username, password)
			if err != nil {
				return errAuthFailed
			}
			principal = p
			return nil
		})}, nil

	case MechCramMD5:
		// go-sasl's CramMD5Authenticator signature (username, response
		// string) has no secret parameter and so cannot itself verify a
		// digest; driven directly against the realm's secret instead, see
		// cramMD5Driver below.
		return newCramMD5Driver(ctx, realm, hostname), nil

	case MechAnonymousUpper:
		return &goSaslDriver{srv: gosasl.NewAnonymousServer(func(trace string) error {
			return nil
		})}, nil

	case MechOAuthBearer:
		var principal string
		return &goSaslDriver{principal: &principal, srv: gosasl.NewOAuthBearerServer(func(opts gosasl.OAuthBearerOptions) *gosasl.OAuthBearerError {
			p, err := realm.VerifyPlain(ctx, "", opts.Username, opts.Token)
			if err != nil {
				return &gosasl.OAuthBearerError{Status: "invalid_token", Schemes: "bearer"}
			}
			principal = p
			return nil
		})}, nil

	case MechExternal:
		return newExternalDriver(ctx, realm), nil

	case MechDigestMD5:
		return newDigestMD5Driver(ctx, realm), nil

	case MechScramSHA256:
		// A zero-knowledge proof mechanism: the password is never put on
		// the wire, so unlike PLAIN/LOGIN it carries no TLS requirement.
		return newScramSHA256Driver(ctx, realm), nil

	case MechGSSAPI, MechNTLM:
		// spec.md §9 Open Questions: "NTLM is specified only as a
		// byte-framed exchange with no Type-3 validation; production
		// implementations should not enable NTLM without a complete
		// verifier." GSSAPI is framed identically here: the byte dialog is
		// faithfully driven but always fails closed.
		return newUnverifiedFrameDriver(), nil

	default:
		return nil, errUnknownMechanism
	}
}

const MechAnonymousUpper = "ANONYMOUS"

var (
	errAuthFailed       = fmt.Errorf("authentication failed")
	errUnknownMechanism = fmt.Errorf("unsupported mechanism")
	errWeakMechanism    = fmt.Errorf("mechanism requires TLS")
)

// --- EXTERNAL ---------------------------------------------------------

type externalDriver struct {
	ctx   context.Context
	realm Realm
	done  bool
}

func newExternalDriver(ctx context.Context, realm Realm) *externalDriver {
	return &externalDriver{ctx: ctx, realm: realm}
}

func (d *externalDriver) next(response []byte) authOutcome {
	if d.done {
		return authOutcome{err: errAuthFailed}
	}
	d.done = true
	authzid := string(response)
	if authzid == "" {
		return authOutcome{err: errAuthFailed}
	}
	if _, err := d.realm.LookupSecret(d.ctx, authzid); err != nil {
		return authOutcome{err: errAuthFailed}
	}
	return authOutcome{done: true, principal: authzid}
}

// --- CRAM-MD5 via hand-rolled HMAC-MD5 verification --------------------

type cramMD5Driver struct {
	ctx       context.Context
	realm     Realm
	challenge []byte
	sent      bool
}

func newCramMD5Driver(ctx context.Context, realm Realm, hostname string) *cramMD5Driver {
	nonce := make([]byte, 16)
	_, _ = rand.Read(nonce)
	challenge := []byte(fmt.Sprintf("<%s@%s>", hex.EncodeToString(nonce), hostname))
	return &cramMD5Driver{ctx: ctx, realm: realm, challenge: challenge}
}

func (d *cramMD5Driver) next(response []byte) authOutcome {
	if !d.sent {
		d.sent = true
		return authOutcome{challenge: d.challenge}
	}

	parts := strings.SplitN(string(response), " ", 2)
	if len(parts) != 2 {
		return authOutcome{err: errAuthFailed}
	}
	username, digest := parts[0], parts[1]

	secret, err := d.realm.LookupSecret(d.ctx, username)
	if err != nil {
		return authOutcome{err: errAuthFailed}
	}

	mac := hmac.New(md5.New, secret)
	mac.Write(d.challenge)
	want := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(want), []byte(digest)) != 1 {
		return authOutcome{err: errAuthFailed}
	}
	return authOutcome{done: true, principal: username}
}

// --- DIGEST-MD5 ---------------------------------------------------------
//
// spec.md §9 Open Question: "DIGEST-MD5 ... verification in the source is
// incomplete (accept-on-user-exists). A correct implementation MUST
// validate the proof; the spec requires full validation." Implemented
// directly against crypto/md5 per RFC 2831, since no library in the pack
// offers a DIGEST-MD5 server.

type digestMD5Driver struct {
	ctx       context.Context
	realm     Realm
	nonce     string
	realmName string
	sent      bool
}

func newDigestMD5Driver(ctx context.Context, realm Realm) *digestMD5Driver {
	nonce := make([]byte, 16)
	_, _ = rand.Read(nonce)
	return &digestMD5Driver{ctx: ctx, realm: realm, nonce: hex.EncodeToString(nonce), realmName: "esmtpd"}
}

func (d *digestMD5Driver) next(response []byte) authOutcome {
	if !d.sent {
		d.sent = true
		challenge := fmt.Sprintf(`realm="%s",nonce="%s",qop="auth",charset=utf-8,algorithm=md5-sess`, d.realmName, d.nonce)
		return authOutcome{challenge: []byte(challenge)}
	}

	kv := parseDigestKV(string(response))
	username := kv["username"]
	nc := kv["nc"]
	cnonce := kv["cnonce"]
	qop := kv["qop"]
	uri := kv["digest-uri"]
	clientResp := kv["response"]

	if username == "" || cnonce == "" || clientResp == "" {
		return authOutcome{err: errAuthFailed}
	}
	if qop == "" {
		qop = "auth"
	}

	secret, err := d.realm.LookupSecret(d.ctx, username)
	if err != nil {
		return authOutcome{err: errAuthFailed}
	}

	// RFC 2831 §2.1.2.1 response-value computation.
	a1h := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s", username, d.realmName, string(secret))))
	a1 := fmt.Sprintf("%s:%s:%s", hex.EncodeToString(a1h[:]), d.nonce, cnonce)
	ha1 := md5.Sum([]byte(a1))

	a2 := "AUTHENTICATE:" + uri
	ha2 := md5.Sum([]byte(a2))

	respData := fmt.Sprintf("%s:%s:%s:%s:%s:%s",
		hex.EncodeToString(ha1[:]), d.nonce, nc, cnonce, qop, hex.EncodeToString(ha2[:]))
	want := md5.Sum([]byte(respData))
	wantHex := hex.EncodeToString(want[:])

	if subtle.ConstantTimeCompare([]byte(wantHex), []byte(clientResp)) != 1 {
		return authOutcome{err: errAuthFailed}
	}
	return authOutcome{done: true, principal: username}
}

func parseDigestKV(s string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToLower(part[:eq])
		val := strings.Trim(part[eq+1:], `"`)
		out[key] = val
	}
	return out
}

// --- SCRAM-SHA-256 -------------------------------------------------------
//
// spec.md §9 Open Question resolution: full SCRAM-SHA-256 proof validation
// per RFC 7677/5802, using golang.org/x/crypto/pbkdf2 for the salted
// password derivation (grounded on HouzuoGuo-laitos's golang.org/x/crypto
// dependency).

type scramSHA256Driver struct {
	ctx             context.Context
	realm           Realm
	step            int
	clientFirstBare string
	serverFirst     string
	username        string
	nonce           string
}

func newScramSHA256Driver(ctx context.Context, realm Realm) *scramSHA256Driver {
	return &scramSHA256Driver{ctx: ctx, realm: realm}
}

func (d *scramSHA256Driver) next(response []byte) authOutcome {
	switch d.step {
	case 0:
		return d.clientFirst(response)
	case 1:
		return d.clientFinal(response)
	default:
		return authOutcome{err: errAuthFailed}
	}
}

func (d *scramSHA256Driver) clientFirst(response []byte) authOutcome {
	msg := string(response)
	// "n,,n=user,r=clientnonce" - strip the gs2 header.
	parts := strings.SplitN(msg, ",,", 2)
	if len(parts) != 2 {
		return authOutcome{err: errAuthFailed}
	}
	bare := parts[1]
	kv := parseScramKV(bare)
	username := kv["n"]
	clientNonce := kv["r"]
	if username == "" || clientNonce == "" {
		return authOutcome{err: errAuthFailed}
	}

	serverNonceBytes := make([]byte, 18)
	_, _ = rand.Read(serverNonceBytes)
	serverNonce := clientNonce + base64.RawStdEncoding.EncodeToString(serverNonceBytes)

	saltBytes := make([]byte, 16)
	_, _ = rand.Read(saltBytes)
	salt := base64.StdEncoding.EncodeToString(saltBytes)

	d.username = username
	d.nonce = serverNonce
	d.clientFirstBare = bare
	d.serverFirst = fmt.Sprintf("r=%s,s=%s,i=4096", serverNonce, salt)
	d.step = 1

	return authOutcome{challenge: []byte(d.serverFirst)}
}

func (d *scramSHA256Driver) clientFinal(response []byte) authOutcome {
	msg := string(response)
	kv := parseScramKV(msg)
	channelBinding := kv["c"]
	nonce := kv["r"]
	proofB64 := kv["p"]
	if channelBinding == "" || nonce != d.nonce || proofB64 == "" {
		return authOutcome{err: errAuthFailed}
	}

	secret, err := d.realm.LookupSecret(d.ctx, d.username)
	if err != nil {
		return authOutcome{err: errAuthFailed}
	}

	firstKV := parseScramKV(d.serverFirst)
	salt, _ := base64.StdEncoding.DecodeString(firstKV["s"])
	saltedPassword := pbkdf2.Key(secret, salt, 4096, sha256.Size, sha256.New)

	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)

	authMessage := d.clientFirstBare + "," + d.serverFirst + "," + clientFinalWithoutProof(msg)
	clientSignature := hmacSHA256(storedKey[:], []byte(authMessage))

	clientProof := make([]byte, len(clientKey))
	for i := range clientKey {
		clientProof[i] = clientKey[i] ^ clientSignature[i]
	}
	wantProof := base64.StdEncoding.EncodeToString(clientProof)

	if subtle.ConstantTimeCompare([]byte(wantProof), []byte(proofB64)) != 1 {
		return authOutcome{err: errAuthFailed}
	}

	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	serverSignature := hmacSHA256(serverKey, []byte(authMessage))
	verifier := "v=" + base64.StdEncoding.EncodeToString(serverSignature)

	return authOutcome{challenge: []byte(verifier), done: true, principal: d.username}
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func clientFinalWithoutProof(msg string) string {
	idx := strings.LastIndex(msg, ",p=")
	if idx < 0 {
		return msg
	}
	return msg[:idx]
}

func parseScramKV(s string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		out[part[:eq]] = part[eq+1:]
	}
	return out
}

// --- GSSAPI / NTLM --------------------------------------------------------
//
// unverifiedFrameDriver drives the byte-framed dialog shape a client
// expects (so AUTH GSSAPI/NTLM never hangs) but always fails the exchange,
// per spec.md §9's guidance not to claim support without a complete
// verifier.

type unverifiedFrameDriver struct {
	step int
}

func newUnverifiedFrameDriver() *unverifiedFrameDriver {
	return &unverifiedFrameDriver{}
}

func (d *unverifiedFrameDriver) next(response []byte) authOutcome {
	if d.step == 0 {
		d.step++
		return authOutcome{challenge: []byte{}}
	}
	return authOutcome{err: errAuthFailed}
}
