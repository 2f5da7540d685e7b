package publish

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hotovec/mails/internal/config"
	"github.com/hotovec/mails/internal/errors"
)

// Message is one HTML email.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    []byte
}

// Mailer sends sample emails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer submits messages to an SMTP relay.
type SMTPMailer struct {
	settings config.SMTPSettings
	send     sendFunc
	now      func() time.Time
}

// NewSMTPMailer creates a mailer for the relay in settings.
func NewSMTPMailer(settings config.SMTPSettings) (*SMTPMailer, error) {
	if settings.Host == "" {
		return nil, errors.NewConfigError(errors.ErrCodeCredentials, "mail credentials need an smtp host", nil)
	}
	if settings.Port == 0 {
		settings.Port = 587
	}
	return &SMTPMailer{settings: settings, send: smtp.SendMail, now: time.Now}, nil
}

// Send submits msg. net/smtp has no context support, so ctx is only
// checked before connecting.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return errors.NewConfigError(errors.ErrCodeMail, "no recipients", nil)
	}

	var auth smtp.Auth
	if m.settings.User != "" {
		auth = smtp.PlainAuth("", m.settings.User, m.settings.Pass, m.settings.Host)
	}

	data, err := buildMessage(msg, m.now())
	if err != nil {
		return errors.NewExternalError(errors.ErrCodeMail, "encode message", err)
	}

	addr := net.JoinHostPort(m.settings.Host, strconv.Itoa(m.settings.Port))
	if err := m.send(addr, auth, msg.From, msg.To, data); err != nil {
		return errors.NewExternalError(errors.ErrCodeMail,
			fmt.Sprintf("send %q to %s", msg.Subject, strings.Join(msg.To, ", ")), err)
	}
	return nil
}

// buildMessage renders msg as a quoted-printable text/html MIME message.
func buildMessage(msg Message, now time.Time) ([]byte, error) {
	for _, h := range append([]string{msg.From, msg.Subject}, msg.To...) {
		if strings.ContainsAny(h, "\r\n") {
			return nil, fmt.Errorf("header value contains a line break: %q", h)
		}
	}

	domain := "localhost"
	if at := strings.LastIndexByte(msg.From, '@'); at >= 0 {
		domain = strings.Trim(msg.From[at+1:], "> ")
	}

	var buf bytes.Buffer
	header := func(key, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", key, value)
	}
	header("From", msg.From)
	header("To", strings.Join(msg.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domain))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="utf-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write(msg.HTML); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
