package chat

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/disco-v8/chatd/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pipeSession runs a session over an in-memory pipe and hands back the
// client end plus the session itself.
func pipeSession(t *testing.T, settings *config.Settings) (*Session, net.Conn, <-chan struct{}) {
	t.Helper()
	server, client := net.Pipe()
	sess := NewSession(server, NewRegistry(), NewBus(), func() *config.Settings { return settings }, testLogger())

	done := make(chan struct{})
	go func() {
		sess.Run()
		close(done)
	}()
	t.Cleanup(func() {
		_ = client.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not close")
		}
	})
	return sess, client, done
}

// expectLine reads lines until one contains substr or the deadline hits.
func expectLine(t *testing.T, conn net.Conn, r *bufio.Reader, substr string) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("waiting for %q: %v", substr, err)
		}
		if strings.Contains(line, substr) {
			return strings.TrimRight(line, "\r\n")
		}
	}
}

func TestSession_NegotiationRejectsAndReprompts(t *testing.T) {
	req := require.New(t)
	settings := &config.Settings{MaxHandleLen: 5, MaxMessageLen: 64, Location: time.UTC}
	sess, client, _ := pipeSession(t, settings)
	r := bufio.NewReader(client)

	expectLine(t, client, r, "Max handle length")
	expectLine(t, client, r, "Enter your handle name")

	fmt.Fprint(client, "much-too-long\n")
	expectLine(t, client, r, "too long")
	expectLine(t, client, r, "Enter your handle name")

	fmt.Fprint(client, "has space\n")
	expectLine(t, client, r, "may not contain")
	expectLine(t, client, r, "Enter your handle name")

	fmt.Fprint(client, "bob\n")
	expectLine(t, client, r, "Welcome, bob")

	snap := sess.registry.Snapshot()
	req.Len(snap, 1)
	req.Equal("bob", snap[0].Handle)
	req.Equal(sess.ID(), snap[0].ID)
	req.Eventually(func() bool { return sess.State() == StateChatting }, 2*time.Second, 10*time.Millisecond)
}

func TestSession_HandleResetVacatesRegistryEntry(t *testing.T) {
	req := require.New(t)
	settings := &config.Settings{MaxHandleLen: 16, MaxMessageLen: 64, Location: time.UTC}
	sess, client, _ := pipeSession(t, settings)
	r := bufio.NewReader(client)

	expectLine(t, client, r, "Enter your handle name")
	fmt.Fprint(client, "alice\n")
	expectLine(t, client, r, "Welcome, alice")

	// CTRL-Y drops the handle before negotiation restarts, so the name is
	// immediately free for someone else.
	fmt.Fprint(client, "\x19\n")
	expectLine(t, client, r, "Enter your handle name")
	req.Zero(sess.registry.Len())

	fmt.Fprint(client, "alicia\n")
	expectLine(t, client, r, "Welcome, alicia")
	req.Eventually(func() bool {
		snap := sess.registry.Snapshot()
		return len(snap) == 1 && snap[0].Handle == "alicia"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_EOFDuringNegotiationClosesCleanly(t *testing.T) {
	settings := &config.Settings{MaxHandleLen: 16, MaxMessageLen: 64, Location: time.UTC}
	sess, client, done := pipeSession(t, settings)
	r := bufio.NewReader(client)

	expectLine(t, client, r, "Enter your handle name")
	_ = client.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not reach Closed after peer EOF")
	}
	require.Equal(t, StateClosed, sess.State())
	require.Zero(t, sess.registry.Len())
}

func TestReadLine(t *testing.T) {
	req := require.New(t)
	r := bufio.NewReader(strings.NewReader("one\r\ntwo\nlast"))

	line, err := readLine(r)
	req.NoError(err)
	req.Equal("one", line)

	line, err = readLine(r)
	req.NoError(err)
	req.Equal("two", line)

	// Final line without a trailing newline still comes through.
	line, err = readLine(r)
	req.NoError(err)
	req.Equal("last", line)

	_, err = readLine(r)
	req.ErrorIs(err, io.EOF)
}

func TestValidHandle(t *testing.T) {
	valid := []string{"bob", "alice42", "日本語"}
	for _, h := range valid {
		require.True(t, validHandle(h), h)
	}
	invalid := []string{"two words", "tab\tbed", "ctrl\x19byte", "new\nline"}
	for _, h := range invalid {
		require.False(t, validHandle(h), h)
	}
}
