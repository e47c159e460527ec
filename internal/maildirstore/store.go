// Package maildirstore is the demo message sink for cmd/esmtpd: it writes
// an accepted message to a Maildir++ mailbox using
// github.com/sloonz/go-maildir, the teacher's unused go.mod dependency
// given a concrete home here.
package maildirstore

import (
	"fmt"

	maildir "github.com/sloonz/go-maildir"
)

// Store delivers accepted message bytes into a Maildir mailbox and hands
// back the delivered key as a queue id.
type Store struct {
	dir maildir.Maildir
}

// Open creates (if necessary) and returns a Store rooted at path.
func Open(path string) (*Store, error) {
	d, err := maildir.NewMaildir(path, true)
	if err != nil {
		return nil, fmt.Errorf("opening maildir at %s: %w", path, err)
	}
	return &Store{dir: d}, nil
}

// Deliver writes msg as a new message and returns its Maildir key, which
// cmd/esmtpd's demo handler prefixes with a sequence number to form the
// queue id echoed back in the "250 2.0.0 Message accepted ... [id]" reply.
func (s *Store) Deliver(msg []byte) (string, error) {
	delivery, err := s.dir.NewDelivery()
	if err != nil {
		return "", fmt.Errorf("starting maildir delivery: %w", err)
	}
	if _, err := delivery.Write(msg); err != nil {
		delivery.Abort()
		return "", fmt.Errorf("writing maildir message: %w", err)
	}
	key, err := delivery.Close()
	if err != nil {
		return "", fmt.Errorf("closing maildir delivery: %w", err)
	}
	return key, nil
}
