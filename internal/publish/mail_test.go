package publish

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotovec/mails/internal/config"
	"github.com/hotovec/mails/internal/errors"
)

var sentAt = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func TestBuildMessage(t *testing.T) {
	html := `<p style="color:red">` + strings.Repeat("Grüße ", 30) + `</p>`
	data, err := buildMessage(Message{
		From:    "Mails <mails@example.com>",
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "Frühjahrs-Sale",
		HTML:    []byte(html),
	}, sentAt)
	require.NoError(t, err)

	msg, err := mail.ReadMessage(bufio.NewReader(bytes.NewReader(data)))
	require.NoError(t, err)

	assert.Equal(t, "Mails <mails@example.com>", msg.Header.Get("From"))
	assert.Equal(t, "a@example.com, b@example.com", msg.Header.Get("To"))
	assert.Equal(t, `text/html; charset="utf-8"`, msg.Header.Get("Content-Type"))
	assert.Equal(t, "quoted-printable", msg.Header.Get("Content-Transfer-Encoding"))
	assert.Equal(t, "1.0", msg.Header.Get("MIME-Version"))

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Frühjahrs-Sale", subject)

	date, err := msg.Header.Date()
	require.NoError(t, err)
	assert.True(t, sentAt.Equal(date))

	assert.Regexp(t, `^<[0-9a-f-]{36}@example\.com>$`, msg.Header.Get("Message-ID"))

	body, err := io.ReadAll(quotedprintable.NewReader(msg.Body))
	require.NoError(t, err)
	assert.Equal(t, html, string(body))

	for _, line := range strings.Split(string(data), "\r\n") {
		assert.LessOrEqual(t, len(line), 998)
	}
}

func TestBuildMessageRejectsHeaderInjection(t *testing.T) {
	tests := []Message{
		{From: "a@example.com\r\nBcc: x@example.com", To: []string{"b@example.com"}},
		{From: "a@example.com", To: []string{"b@example.com\nBcc: x@example.com"}},
		{From: "a@example.com", To: []string{"b@example.com"}, Subject: "hi\r\nBcc: x@example.com"},
	}
	for _, msg := range tests {
		_, err := buildMessage(msg, sentAt)
		assert.Error(t, err)
	}
}

func TestSMTPMailerSend(t *testing.T) {
	m, err := NewSMTPMailer(config.SMTPSettings{Host: "smtp.example.com", User: "ann", Pass: "secret"})
	require.NoError(t, err)
	m.now = func() time.Time { return sentAt }

	var gotAddr, gotFrom string
	var gotTo []string
	var gotAuth smtp.Auth
	var gotMsg []byte
	m.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, auth, from, to, msg
		return nil
	}

	err = m.Send(context.Background(), Message{
		From:    "mails@example.com",
		To:      []string{"team@example.com"},
		Subject: "Welcome",
		HTML:    []byte("<p>hi</p>"),
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "mails@example.com", gotFrom)
	assert.Equal(t, []string{"team@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Welcome\r\n")
}

func TestSMTPMailerSendErrors(t *testing.T) {
	m, err := NewSMTPMailer(config.SMTPSettings{Host: "smtp.example.com", Port: 25})
	require.NoError(t, err)

	var sent int
	m.send = func(addr string, auth smtp.Auth, _ string, _ []string, _ []byte) error {
		sent++
		assert.Equal(t, "smtp.example.com:25", addr)
		assert.Nil(t, auth, "no auth without a user")
		return io.ErrUnexpectedEOF
	}

	err = m.Send(context.Background(), Message{From: "a@example.com"})
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err), "no recipients")

	err = m.Send(context.Background(), Message{From: "a@example.com", To: []string{"b@example.com"}, Subject: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, 1, sent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = m.Send(ctx, Message{From: "a@example.com", To: []string{"b@example.com"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sent)
}

func TestNewSMTPMailerRequiresHost(t *testing.T) {
	_, err := NewSMTPMailer(config.SMTPSettings{})
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}
