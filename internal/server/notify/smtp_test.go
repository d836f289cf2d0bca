package notify

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/server/config"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	from, to string
	msg      []byte
}

func newCapturingNotifier(t *testing.T) (*SMTPNotifier, *[]sent) {
	t.Helper()
	n := NewSMTPNotifier(SMTPConfig{From: "Mail Vault <vault@example.com>"})
	n.now = func() time.Time { return time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC) }
	var out []sent
	n.send = func(ctx context.Context, from, to string, msg []byte) error {
		out = append(out, sent{from: from, to: to, msg: msg})
		return nil
	}
	return n, &out
}

func readMessage(t *testing.T, raw []byte) (*mail.Header, string) {
	t.Helper()
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer mr.Close()

	p, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(p.Body)
	require.NoError(t, err)
	return &mr.Header, string(body)
}

var usage = models.UsageSummary{
	Items:       3,
	FreeItems:   10,
	Bytes:       2 * 1024 * 1024,
	PeriodStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
}

func TestSMTPNotifier_SendConfirmation(t *testing.T) {
	n, out := newCapturingNotifier(t)

	require.NoError(t, n.SendConfirmation(context.Background(), "a@x.com", "entity-1", "Invoice", usage))
	require.Len(t, *out, 1)
	assert.Equal(t, "a@x.com", (*out)[0].to)

	h, body := readMessage(t, (*out)[0].msg)
	subject, err := h.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Archived: Invoice", subject)

	to, err := h.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "a@x.com", to[0].Address)

	id, err := h.MessageID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Contains(t, body, "entity-1")
	assert.Contains(t, body, "March 2025")
	assert.Contains(t, body, "free items left: 7 of 10")
	assert.Contains(t, body, "2.0 MB")
	assert.NotContains(t, body, "charges")
}

func TestSMTPNotifier_SendWelcome(t *testing.T) {
	n, out := newCapturingNotifier(t)

	require.NoError(t, n.SendWelcome(context.Background(), "a@x.com", "nv-1", "share-key", usage))
	_, body := readMessage(t, (*out)[0].msg)
	assert.Contains(t, body, "nv-1")
	assert.Contains(t, body, "share-key")
}

func TestSMTPNotifier_SendQuotaExceeded(t *testing.T) {
	n, out := newCapturingNotifier(t)
	billed := usage
	billed.Billed = true
	billed.CostCents = 125

	require.NoError(t, n.SendQuotaExceeded(context.Background(), "a@x.com", "monthly cap reached", billed))
	_, body := readMessage(t, (*out)[0].msg)
	assert.Contains(t, body, "monthly cap reached")
	assert.Contains(t, body, "$1.25")
}

func TestSMTPNotifier_SendFailure(t *testing.T) {
	n, out := newCapturingNotifier(t)

	require.NoError(t, n.SendFailure(context.Background(), "a@x.com", "Invoice", "upload failed", 3))
	h, body := readMessage(t, (*out)[0].msg)
	subject, err := h.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Archiving failed: Invoice", subject)
	assert.Contains(t, body, "upload failed")
	assert.Contains(t, body, "Attempts: 3")
}

func TestSMTPNotifier_InvalidRecipient(t *testing.T) {
	n, out := newCapturingNotifier(t)

	err := n.SendFailure(context.Background(), "not an address", "s", "e", 1)
	require.Error(t, err)
	assert.Empty(t, *out)
}

func TestSMTPNotifier_SendError(t *testing.T) {
	n, _ := newCapturingNotifier(t)
	n.send = func(context.Context, string, string, []byte) error { return errors.New("relay denied") }

	err := n.SendConfirmation(context.Background(), "a@x.com", "r", "s", usage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay denied")
}

// serveSMTP answers one plain SMTP session and returns the DATA payload.
func serveSMTP(t *testing.T, ln net.Listener) <-chan string {
	t.Helper()
	data := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		reply("220 localhost ESMTP")

		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 OK")
			case cmd == "DATA":
				reply("354 go ahead")
				var b strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					b.WriteString(l)
				}
				data <- b.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("502 unsupported")
			}
		}
	}()
	return data
}

func TestSMTPNotifier_DeliverPlain(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	data := serveSMTP(t, ln)
	addr := ln.Addr().(*net.TCPAddr)

	n := NewSMTPNotifier(SMTPConfig{Host: "127.0.0.1", Port: addr.Port, From: "vault@example.com", TLS: config.TLSNone})

	require.NoError(t, n.SendFailure(context.Background(), "a@x.com", "Invoice", "boom", 3))

	select {
	case payload := <-data:
		assert.Contains(t, payload, "Subject: Archiving failed: Invoice")
		assert.Contains(t, payload, "boom")
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestSMTPNotifier_DeliverDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	n := NewSMTPNotifier(SMTPConfig{Host: "127.0.0.1", Port: port, From: "vault@example.com", TLS: config.TLSNone})
	err = n.SendFailure(context.Background(), "a@x.com", "s", "e", 1)
	require.Error(t, err)
}
