// Package auth provides an in-memory smtp.Realm backed by a JSON account
// file, adapted from the teacher's user.User/user.UserDB.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io/ioutil"
	"sync"

	"github.com/gopistolet/esmtpd/smtp"
)

// Account is one authenticatable principal, adapted from the teacher's
// user.User (Name/Email/Password), extended with a shared secret for the
// challenge-response mechanisms and a role set for sender authorization
// (spec.md §4.6). Password is only a transient input to AddAccount and
// LoadRealmFile: it is
// salted, hashed into PasswordHash and cleared before the account is
// stored, so neither the in-memory map nor a saved realm file ever holds
// a cleartext password.
type Account struct {
	Name         string
	Email        smtp.MailAddress
	Password     string
	PasswordHash []byte
	Salt         []byte
	Secret       string // CRAM-MD5/DIGEST-MD5/SCRAM-SHA-256 shared secret
	Roles        []string
}

func hashPassword(password string, salt []byte) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(password))
	return h.Sum(nil)
}

// setPassword salts and hashes password, discarding the cleartext.
func (a *Account) setPassword(password string) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	a.Salt = salt
	a.PasswordHash = hashPassword(password, salt)
	a.Password = ""
	return nil
}

func (a *Account) checkPassword(password string) bool {
	if len(a.PasswordHash) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(a.PasswordHash, hashPassword(password, a.Salt)) == 1
}

// InMemoryRealm is a smtp.Realm over a map of Account, adapted from the
// teacher's user.UserDB (Users map[string]User, UserExists/Get/Add/
// SaveDB/LoadDB).
type InMemoryRealm struct {
	mu       sync.RWMutex
	accounts map[string]Account
	mechs    []string
}

// NewInMemoryRealm builds an empty realm advertising mechs.
func NewInMemoryRealm(mechs []string) *InMemoryRealm {
	return &InMemoryRealm{accounts: make(map[string]Account), mechs: mechs}
}

// LoadRealmFile reads a JSON-encoded {"Accounts": {...}} document, mirroring
// the teacher's user.LoadDB/SaveDB round trip.
func LoadRealmFile(path string, mechs []string) (*InMemoryRealm, error) {
	input, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Accounts map[string]Account
	}
	if err := json.Unmarshal(input, &doc); err != nil {
		return nil, err
	}
	if doc.Accounts == nil {
		doc.Accounts = make(map[string]Account)
	}
	for name, a := range doc.Accounts {
		if a.Password != "" {
			if err := a.setPassword(a.Password); err != nil {
				return nil, err
			}
			doc.Accounts[name] = a
		}
	}
	return &InMemoryRealm{accounts: doc.Accounts, mechs: mechs}, nil
}

// SaveRealmFile persists the realm the way the teacher's UserDB.SaveDB did.
func (r *InMemoryRealm) SaveRealmFile(path string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc := struct {
		Accounts map[string]Account
	}{Accounts: r.accounts}
	out, err := json.MarshalIndent(doc, "", "\t")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, out, 0644)
}

// AddAccount registers a in the realm, rejecting a duplicate name the way
// the teacher's UserDB.Add did.
func (r *InMemoryRealm) AddAccount(a Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[a.Name]; exists {
		return errors.New("account already exists")
	}
	if a.Password != "" {
		if err := a.setPassword(a.Password); err != nil {
			return err
		}
	}
	r.accounts[a.Name] = a
	return nil
}

func (r *InMemoryRealm) lookup(name string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[name]
	return a, ok
}

// Mechanisms implements smtp.Realm.
func (r *InMemoryRealm) Mechanisms() []string {
	return r.mechs
}

// VerifyPlain implements smtp.Realm.
func (r *InMemoryRealm) VerifyPlain(ctx context.Context, authzid, username, password string) (string, error) {
	a, ok := r.lookup(username)
	if !ok || !a.checkPassword(password) {
		return "", errors.New("invalid credentials")
	}
	return a.Email.String(), nil
}

// LookupSecret implements smtp.Realm.
func (r *InMemoryRealm) LookupSecret(ctx context.Context, username string) ([]byte, error) {
	a, ok := r.lookup(username)
	if !ok || a.Secret == "" {
		return nil, errors.New("no shared secret for user")
	}
	return []byte(a.Secret), nil
}

// Roles implements smtp.Realm.
func (r *InMemoryRealm) Roles(ctx context.Context, principal string) []string {
	for _, a := range r.snapshot() {
		if a.Email.String() == principal || a.Name == principal {
			return a.Roles
		}
	}
	return nil
}

func (r *InMemoryRealm) snapshot() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	return out
}
