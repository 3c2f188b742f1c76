package chat

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/disco-v8/chatd/internal/config"
)

const (
	outboundBuffer = 32
	flushTimeout   = 2 * time.Second
)

// Session owns one accepted connection from handle negotiation through
// chatting to teardown. The settings snapshot is captured when the session
// enters negotiation and again after a handle reset, so reloaded limits
// apply to new activity first.
type Session struct {
	id       SessionID
	conn     net.Conn
	out      chan string
	logger   *slog.Logger
	registry *Registry
	bus      *Bus
	settings func() *config.Settings

	state  atomic.Int32
	handle string

	closeOnce   sync.Once
	writerDone  <-chan struct{}
	forwardDone <-chan struct{}
}

func NewSession(conn net.Conn, registry *Registry, bus *Bus, settings func() *config.Settings, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := SessionID(uuid.NewString())
	return &Session{
		id:       id,
		conn:     conn,
		out:      make(chan string, outboundBuffer),
		logger:   logger.With("session", string(id), "peer", conn.RemoteAddr().String()),
		registry: registry,
		bus:      bus,
		settings: settings,
	}
}

func (s *Session) ID() SessionID { return s.id }

// State reports the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Close forces the session toward Closing by closing the transport; the
// Run goroutine completes the teardown. Idempotent, safe to call from the
// controller while Run is blocked on I/O.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// Run drives the state machine until the connection is gone. It must be
// called exactly once and leaves the session in Closed.
func (s *Session) Run() {
	defer s.teardown()

	s.writerDone = startWriter(s.conn, s.out)
	reader := bufio.NewReader(s.conn)

	snap := s.settings()
	s.sendBanner(snap)

	for {
		s.setState(StateNegotiating)
		handle, err := s.negotiate(reader, snap)
		if err != nil {
			return
		}

		s.handle = handle
		s.registry.Register(s.id, handle)
		sub := s.bus.Subscribe(s.id)
		s.forwardDone = s.forward(sub, snap.Location)

		// Confirm only after the subscription is live, so a peer who sees
		// the confirmation can rely on this session receiving from then on.
		s.send("SYSTEM> Welcome, " + handle)

		s.setState(StateChatting)
		reset, err := s.chat(reader, snap)

		s.registry.Deregister(s.id)
		s.bus.Unsubscribe(s.id)
		<-s.forwardDone
		s.forwardDone = nil

		if err != nil || !reset {
			return
		}

		// CTRL-Y: the vacated handle is immediately reusable by anyone;
		// renegotiate under a fresh settings snapshot.
		s.logger.Info("handle reset", "handle", handle)
		s.handle = ""
		snap = s.settings()
	}
}

// teardown is the single cleanup path: EOF, protocol teardown, transport
// errors, and controller-forced shutdown all end up here via Run's defer.
func (s *Session) teardown() {
	s.setState(StateClosing)
	s.registry.Deregister(s.id)
	s.bus.Unsubscribe(s.id)
	if s.forwardDone != nil {
		<-s.forwardDone
	}

	// Let the writer flush what is already queued, but never hang the
	// drain on a peer that stopped reading.
	close(s.out)
	select {
	case <-s.writerDone:
	case <-time.After(flushTimeout):
	}

	s.Close()
	s.setState(StateClosed)
	s.logger.Info("session closed", "handle", s.handle)
}

func (s *Session) sendBanner(snap *config.Settings) {
	s.send(fmt.Sprintf(strings.Join([]string{
		"##############################################",
		"#### Welcome to the chat server",
		"#### Set your handle name, and enjoy!",
		"#### Max handle length  : %d",
		"#### Max message length : %d",
		"#### CTRL-Y : reset your handle name",
		"#### CTRL-D : disconnect",
		"##############################################",
	}, "\n"), snap.MaxHandleLen, snap.MaxMessageLen))

	others := s.registry.Handles(s.id)
	if len(others) == 0 {
		s.send("SYSTEM> No other clients are connected")
	} else {
		s.send("SYSTEM> Currently connected: " + strings.Join(others, ", "))
	}
}

// negotiate reads lines until the peer supplies a valid handle. Invalid
// input re-prompts; only a transport error or a disconnect control ends
// the loop early.
func (s *Session) negotiate(reader *bufio.Reader, snap *config.Settings) (string, error) {
	for {
		s.send("SYSTEM> Enter your handle name")
		line, err := readLine(reader)
		if err != nil {
			return "", err
		}
		if strings.ContainsAny(line, ctrlInterrupt+ctrlEndOfInput) {
			return "", io.EOF
		}

		handle := strings.TrimSpace(line)
		switch {
		case handle == "":
			continue
		case !validHandle(handle):
			s.send("SYSTEM> Handle names may not contain spaces or control characters")
		case len(handle) > snap.MaxHandleLen:
			s.send("SYSTEM> Handle name is too long")
		default:
			s.logger.Info("handle accepted", "handle", handle)
			return handle, nil
		}
	}
}

// chat runs the read side of the Chatting state. It returns reset=true
// when the peer asked to renegotiate its handle, and a nil error with
// reset=false on an orderly disconnect.
func (s *Session) chat(reader *bufio.Reader, snap *config.Settings) (bool, error) {
	for {
		line, err := readLine(reader)
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("read failed", "error", err)
			}
			return false, err
		}
		if strings.ContainsAny(line, ctrlInterrupt+ctrlEndOfInput) {
			return false, nil
		}
		if strings.ContainsRune(line, ctrlHandleReset) {
			return true, nil
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if len(text) > snap.MaxMessageLen {
			s.send("SYSTEM> Message is too long and was not sent")
			MessagesTotal.WithLabelValues("rejected").Inc()
			continue
		}

		s.bus.Publish(ChatMessage{
			Origin: s.id,
			Handle: s.handle,
			Text:   text,
			Sent:   time.Now(),
		})
		MessagesTotal.WithLabelValues("broadcast").Inc()
	}
}

// forward copies bus deliveries to the outbound writer until the
// subscription is closed.
func (s *Session) forward(sub <-chan ChatMessage, loc *time.Location) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub {
			stamp := msg.Sent.In(loc).Format("2006/01/02 15:04")
			s.send(fmt.Sprintf("%s> %s (%s)", msg.Handle, msg.Text, stamp))
		}
	}()
	return done
}

// send queues a line for the writer without ever blocking the caller. A
// full buffer means the peer is not draining; the line is dropped.
func (s *Session) send(line string) {
	select {
	case s.out <- line:
	default:
		DroppedDeliveries.Inc()
	}
}

func validHandle(handle string) bool {
	for _, r := range handle {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err == nil {
		return strings.TrimRight(line, "\r\n"), nil
	}
	if err == io.EOF && line != "" {
		// last line without newline
		return strings.TrimRight(line, "\r\n"), nil
	}
	if err == io.EOF {
		return "", io.EOF
	}
	return "", fmt.Errorf("read: %w", err)
}
