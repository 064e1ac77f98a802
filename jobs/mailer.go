package jobs

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

// Mailer sends alert notifications.
type Mailer interface {
	Send(to []string, subject, body string) error
}

// SMTPMailer delivers mail through a plain SMTP relay.
type SMTPMailer struct {
	addr string
	from string
}

// NewSMTPMailer constructs a mailer for the given relay address.
func NewSMTPMailer(host string, port int, from string) *SMTPMailer {
	return &SMTPMailer{addr: fmt.Sprintf("%s:%d", host, port), from: from}
}

// Send delivers one message to all recipients in a single SMTP exchange.
func (m *SMTPMailer) Send(to []string, subject, body string) error {
	if m == nil || m.addr == ":0" {
		return errors.New("mailer: not configured")
	}
	if len(to) == 0 {
		return errors.New("mailer: no recipients")
	}
	msg := strings.Builder{}
	fmt.Fprintf(&msg, "From: %s\r\n", m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	return smtp.SendMail(m.addr, nil, m.from, to, []byte(msg.String()))
}
