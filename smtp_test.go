package mailer

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTPServer is a line-oriented stand-in that records one or more
// plaintext SMTP sessions. It enforces RFC 5321 command sequencing: MAIL
// inside an open transaction gets 503, as real servers respond. authReply
// is sent in response to AUTH; an empty value accepts with 235. Set
// rejectRcpt before connecting to refuse matching recipients with 550.
type fakeSMTPServer struct {
	addr       string
	authReply  string
	rejectRcpt string

	mu       sync.Mutex
	conns    int
	from     []string
	rcpts    []string
	data     []string
	resets   int
	authSeen bool
}

func newFakeSMTPServer(t *testing.T, authReply string) *fakeSMTPServer {
	t.Helper()

	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	s := &fakeSMTPServer{addr: ln.Addr().String(), authReply: authReply}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns++
			s.mu.Unlock()
			go s.handle(conn)
		}
	}()
	return s
}

func (s *fakeSMTPServer) port() int {
	_, port, _ := net.SplitHostPort(s.addr)
	var p int
	fmt.Sscanf(port, "%d", &p)
	return p
}

func (s *fakeSMTPServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	fmt.Fprintf(conn, "220 fake ESMTP\r\n")

	inTransaction := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		upper := strings.ToUpper(cmd)

		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			fmt.Fprintf(conn, "250-fake\r\n250 AUTH PLAIN\r\n")
		case strings.HasPrefix(upper, "AUTH"):
			s.mu.Lock()
			s.authSeen = true
			s.mu.Unlock()
			if s.authReply != "" {
				fmt.Fprintf(conn, "%s\r\n", s.authReply)
			} else {
				fmt.Fprintf(conn, "235 2.7.0 ok\r\n")
			}
		case strings.HasPrefix(upper, "MAIL FROM:"):
			if inTransaction {
				fmt.Fprintf(conn, "503 5.5.1 nested MAIL command\r\n")
				continue
			}
			inTransaction = true
			s.mu.Lock()
			s.from = append(s.from, cmd[len("MAIL FROM:"):])
			s.mu.Unlock()
			fmt.Fprintf(conn, "250 ok\r\n")
		case strings.HasPrefix(upper, "RCPT TO:"):
			if !inTransaction {
				fmt.Fprintf(conn, "503 5.5.1 need MAIL before RCPT\r\n")
				continue
			}
			if s.rejectRcpt != "" && strings.Contains(cmd, s.rejectRcpt) {
				fmt.Fprintf(conn, "550 5.1.1 user unknown\r\n")
				continue
			}
			s.mu.Lock()
			s.rcpts = append(s.rcpts, cmd[len("RCPT TO:"):])
			s.mu.Unlock()
			fmt.Fprintf(conn, "250 ok\r\n")
		case upper == "DATA":
			if !inTransaction {
				fmt.Fprintf(conn, "503 5.5.1 need MAIL before DATA\r\n")
				continue
			}
			fmt.Fprintf(conn, "354 go ahead\r\n")
			var body strings.Builder
			for {
				dl, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if strings.TrimRight(dl, "\r\n") == "." {
					break
				}
				body.WriteString(dl)
			}
			inTransaction = false
			s.mu.Lock()
			s.data = append(s.data, body.String())
			s.mu.Unlock()
			fmt.Fprintf(conn, "250 queued\r\n")
		case upper == "RSET":
			inTransaction = false
			s.mu.Lock()
			s.resets++
			s.mu.Unlock()
			fmt.Fprintf(conn, "250 ok\r\n")
		case upper == "QUIT":
			fmt.Fprintf(conn, "221 bye\r\n")
			return
		default:
			fmt.Fprintf(conn, "250 ok\r\n")
		}
	}
}

func (s *fakeSMTPServer) snapshot() (conns int, from, rcpts, data []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns, append([]string(nil), s.from...), append([]string(nil), s.rcpts...), append([]string(nil), s.data...)
}

func TestSMTPBackend_Send(t *testing.T) {
	t.Parallel()

	srv := newFakeSMTPServer(t, "")
	b := NewSMTPBackend(SMTPConfig{Host: "localhost", Port: srv.port(), Timeout: 5 * time.Second})

	m := NewMessage("Welcome!", "Thanks for signing up.", "user@example.com")
	m.From = "Team <team@example.com>"
	m.BCC = []string{"audit@example.com"}

	n, err := b.SendMessages(context.Background(), []*Message{m})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, from, rcpts, data := srv.snapshot()
	require.Len(t, from, 1)
	assert.Equal(t, "<team@example.com>", from[0])
	assert.ElementsMatch(t, []string{"<user@example.com>", "<audit@example.com>"}, rcpts)
	require.Len(t, data, 1)
	assert.Contains(t, data[0], "Subject: Welcome!")
	assert.NotContains(t, data[0], "audit@example.com")
}

func TestSMTPBackend_ReusesSessionAcrossBatches(t *testing.T) {
	t.Parallel()

	srv := newFakeSMTPServer(t, "")
	b := NewSMTPBackend(SMTPConfig{Host: "localhost", Port: srv.port(), Timeout: 5 * time.Second})
	ctx := context.Background()

	opened, err := b.Open(ctx)
	require.NoError(t, err)
	require.True(t, opened)
	defer b.Close()

	for i := range 3 {
		m := NewMessage(fmt.Sprintf("batch %d", i), "body", "user@example.com")
		m.From = "team@example.com"
		_, err := b.SendMessages(ctx, []*Message{m})
		require.NoError(t, err)
	}
	require.NoError(t, b.Close())

	conns, _, _, data := srv.snapshot()
	assert.Equal(t, 1, conns)
	assert.Len(t, data, 3)
}

func TestSMTPBackend_FailSilentlySkipsRejectedRecipient(t *testing.T) {
	t.Parallel()

	srv := newFakeSMTPServer(t, "")
	srv.rejectRcpt = "blocked@example.com"
	b := NewSMTPBackend(SMTPConfig{Host: "localhost", Port: srv.port(), Timeout: 5 * time.Second}, WithFailSilently(true))

	msgs := []*Message{
		NewMessage("first", "body", "user@example.com"),
		NewMessage("second", "body", "blocked@example.com"),
		NewMessage("third", "body", "other@example.com"),
	}
	for _, m := range msgs {
		m.From = "team@example.com"
	}

	n, err := b.SendMessages(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// the rejected transaction was reset, so the later messages went
	// through on the same session
	_, _, _, data := srv.snapshot()
	require.Len(t, data, 2)
	assert.Contains(t, data[0], "Subject: first")
	assert.Contains(t, data[1], "Subject: third")

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.GreaterOrEqual(t, srv.resets, 1)
}

func TestSMTPBackend_SessionUsableAfterRejectedRecipient(t *testing.T) {
	t.Parallel()

	srv := newFakeSMTPServer(t, "")
	srv.rejectRcpt = "blocked@example.com"
	b := NewSMTPBackend(SMTPConfig{Host: "localhost", Port: srv.port(), Timeout: 5 * time.Second})
	ctx := context.Background()

	opened, err := b.Open(ctx)
	require.NoError(t, err)
	require.True(t, opened)
	defer b.Close()

	bad := NewMessage("rejected", "body", "blocked@example.com")
	bad.From = "team@example.com"
	_, err = b.SendMessages(ctx, []*Message{bad})
	require.ErrorIs(t, err, ErrDelivery)

	good := NewMessage("accepted", "body", "user@example.com")
	good.From = "team@example.com"
	n, err := b.SendMessages(ctx, []*Message{good})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	conns, _, _, data := srv.snapshot()
	assert.Equal(t, 1, conns)
	require.Len(t, data, 1)
	assert.Contains(t, data[0], "Subject: accepted")
}

func TestSMTPBackend_Authentication(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		srv := newFakeSMTPServer(t, "")
		b := NewSMTPBackend(SMTPConfig{
			Host: "localhost", Port: srv.port(),
			Username: "user", Password: "secret",
			Timeout: 5 * time.Second,
		})

		opened, err := b.Open(context.Background())
		require.NoError(t, err)
		assert.True(t, opened)
		require.NoError(t, b.Close())

		srv.mu.Lock()
		defer srv.mu.Unlock()
		assert.True(t, srv.authSeen)
	})

	t.Run("rejected credentials", func(t *testing.T) {
		t.Parallel()
		srv := newFakeSMTPServer(t, "535 5.7.8 authentication credentials invalid")
		b := NewSMTPBackend(SMTPConfig{
			Host: "localhost", Port: srv.port(),
			Username: "user", Password: "wrong",
			Timeout: 5 * time.Second,
		})

		_, err := b.Open(context.Background())
		require.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("skipped without credentials", func(t *testing.T) {
		t.Parallel()
		srv := newFakeSMTPServer(t, "")
		b := NewSMTPBackend(SMTPConfig{Host: "localhost", Port: srv.port(), Timeout: 5 * time.Second})

		_, err := b.Open(context.Background())
		require.NoError(t, err)
		require.NoError(t, b.Close())

		srv.mu.Lock()
		defer srv.mu.Unlock()
		assert.False(t, srv.authSeen)
	})
}

func TestSMTPBackend_TLSModeConflict(t *testing.T) {
	t.Parallel()

	b := NewSMTPBackend(SMTPConfig{UseTLS: true, UseSSL: true})
	_, err := b.Open(context.Background())
	require.ErrorIs(t, err, ErrBackend)
}

func TestSMTPBackend_StartTLSUnsupported(t *testing.T) {
	t.Parallel()

	// the fake server never advertises STARTTLS
	srv := newFakeSMTPServer(t, "")
	b := NewSMTPBackend(SMTPConfig{Host: "localhost", Port: srv.port(), UseTLS: true, Timeout: 5 * time.Second})

	_, err := b.Open(context.Background())
	require.ErrorIs(t, err, ErrConnection)
	assert.Contains(t, err.Error(), "STARTTLS")
}

func TestSMTPBackend_DialFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	b := NewSMTPBackend(SMTPConfig{Host: "127.0.0.1", Port: port, Timeout: 2 * time.Second})
	_, err = b.Open(context.Background())
	require.ErrorIs(t, err, ErrConnection)
}

func TestSMTPBackend_CloseIdempotent(t *testing.T) {
	t.Parallel()

	b := NewSMTPBackend(SMTPConfig{})
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestEnvelopeFrom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "user@example.com", want: "user@example.com"},
		{in: "Alice <alice@example.com>", want: "alice@example.com"},
		{in: "<bob@example.com>", want: "bob@example.com"},
		{in: "Broken <oops", wantErr: true},
	}
	for _, tt := range tests {
		got, err := envelopeFrom(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
