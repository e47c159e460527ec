package main

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/gopistolet/esmtpd/internal/maildirstore"
	"github.com/gopistolet/esmtpd/smtp"
)

// demoHandler is a minimal smtp.Handler: it accepts every stage and, once a
// message is fully received, delivers it to a Maildir mailbox. One instance
// is created per connection by smtp.Server's handlerFactory, matching
// spec.md §5's "no reentrancy" model.
type demoHandler struct {
	store *maildirstore.Store
	log   *logrus.Entry

	buf        bytes.Buffer
	recipients int
	seq        *uint64
}

func newDemoHandler(store *maildirstore.Store, log *logrus.Entry, seq *uint64) *demoHandler {
	return &demoHandler{store: store, log: log, seq: seq}
}

func (h *demoHandler) Connected(s smtp.ConnectedState) {
	h.log.WithField("remote_addr", s.RemoteAddr()).Info("connection accepted")
	s.AcceptConnection("demo ESMTP server ready")
}

func (h *demoHandler) Hello(s smtp.HelloState, name string, extended bool) {
	s.AcceptHello()
}

func (h *demoHandler) MailFrom(s smtp.MailFromState, addr smtp.MailAddress, params smtp.DeliveryRequirements) {
	s.AcceptSender()
}

func (h *demoHandler) RcptTo(s smtp.RcptToState, addr smtp.MailAddress, dsn smtp.RecipientDSN) {
	h.recipients++
	s.AcceptRecipient(addr)
}

func (h *demoHandler) StartMessage(s smtp.MessageState) {
	h.buf.Reset()
	s.AcceptMessage()
}

func (h *demoHandler) MessageContent(data []byte) {
	h.buf.Write(data)
}

func (h *demoHandler) MessageComplete(s smtp.MessageCompleteState) {
	key, err := h.store.Deliver(h.buf.Bytes())
	if err != nil {
		h.log.WithError(err).Warn("maildir delivery failed")
		s.RejectMessageTemporary("mailbox temporarily unavailable")
		return
	}
	id := atomic.AddUint64(h.seq, 1)
	s.AcceptMessageDelivery(fmt.Sprintf("%d-%s", id, key))
}

func (h *demoHandler) Reset(s smtp.ResetState) {
	h.buf.Reset()
	h.recipients = 0
	s.AcceptReset()
}

func (h *demoHandler) Disconnected() {}
