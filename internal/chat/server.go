package chat

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/disco-v8/chatd/internal/config"
)

// Server owns the listener, the registry, the bus, and the live settings
// snapshot, and coordinates reload and shutdown across them.
type Server struct {
	logger   *slog.Logger
	registry *Registry
	bus      *Bus
	settings atomic.Pointer[config.Settings]

	mu       sync.Mutex // guards listener, sessions, stopping
	listener net.Listener
	sessions map[SessionID]*Session
	stopping bool

	wg sync.WaitGroup
}

func NewServer(settings *config.Settings, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:   logger,
		registry: NewRegistry(),
		bus:      NewBus(),
		sessions: make(map[SessionID]*Session),
	}
	s.settings.Store(settings)
	return s
}

// Settings returns the current snapshot. Sessions capture it when they
// enter handle negotiation; a reload swaps the pointer wholesale, so a
// reader never observes a half-applied value.
func (s *Server) Settings() *config.Settings { return s.settings.Load() }

func (s *Server) Registry() *Registry { return s.registry }

// Addr reports the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the configured listener and begins accepting. A bind failure
// here is fatal to the caller; nothing has been accepted yet.
func (s *Server) Start() error {
	snap := s.Settings()
	ln, err := Listen(snap.Listen)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go s.acceptLoop(ln)
	s.logger.Info("listening", "network", snap.Listen.Network, "addr", ln.Addr().String())
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed: shutdown, or replaced by a reload.
			return
		}

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		sess := NewSession(conn, s.registry, s.bus, s.Settings, s.logger)
		s.sessions[sess.ID()] = sess
		s.wg.Add(1)
		s.mu.Unlock()

		ConnectedSessions.Inc()
		s.logger.Info("client connected", "peer", conn.RemoteAddr().String(), "session", string(sess.ID()))

		go func() {
			defer s.wg.Done()
			sess.Run()

			s.mu.Lock()
			delete(s.sessions, sess.ID())
			s.mu.Unlock()
			ConnectedSessions.Dec()
		}()
	}
}

// Reload builds a fresh snapshot via load and applies it. Existing
// sessions keep whatever snapshot they captured. The listener is replaced
// only when the listen spec changed, binding the new address before
// closing the old one; a failed load or bind keeps the previous listener
// serving. Safe to call repeatedly.
func (s *Server) Reload(load func() (*config.Settings, error)) error {
	next, err := load()
	if err != nil {
		s.logger.Error("reload failed, keeping previous settings", "error", err)
		return err
	}

	prev := s.settings.Swap(next)
	s.logger.Info("settings reloaded",
		"max_handle_len", next.MaxHandleLen,
		"max_message_len", next.MaxMessageLen)

	if prev.Listen == next.Listen {
		// Re-binding the same address would require closing the live
		// listener first; with nothing changed it is skipped outright.
		return nil
	}

	ln, err := Listen(next.Listen)
	if err != nil {
		// Keep serving on the previous address; the new limits still apply.
		retained := *next
		retained.Listen = prev.Listen
		s.settings.Store(&retained)
		s.logger.Error("rebind failed, keeping previous listener", "error", err)
		return err
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	old := s.listener
	s.listener = ln
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	go s.acceptLoop(ln)
	s.logger.Info("listener replaced", "network", next.Listen.Network, "addr", ln.Addr().String())
	return nil
}

// Shutdown stops accepting, forces every live session into Closing, and
// waits for the drain to finish or ctx to expire. Repeated calls are
// tolerated; only the first does the work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	ln := s.listener
	s.listener = nil
	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	s.logger.Info("shutting down", "sessions", len(live))
	if ln != nil {
		_ = ln.Close()
	}
	for _, sess := range live {
		sess.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.bus.Close()
		s.logger.Info("shutdown complete")
		return nil
	case <-ctx.Done():
		s.logger.Warn("drain window expired", "error", ctx.Err())
		return ctx.Err()
	}
}
