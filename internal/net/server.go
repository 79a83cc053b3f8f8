package net

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	acceptBacklog   = 64
	maxAcceptDelay  = time.Second
	baseAcceptDelay = 5 * time.Millisecond
)

// Server accepts TCP connections and hands started sessions to the tick
// driver through NewSessions. Sessions the driver cannot take in time are
// closed and counted as dropped.
type Server struct {
	listener net.Listener
	opts     SessionOptions
	log      *zap.Logger

	nextID   atomic.Uint64
	dropped  atomic.Uint64
	sessions chan *Session

	stopOnce sync.Once
	stopped  atomic.Bool
}

func NewServer(bindAddr string, opts SessionOptions, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", bindAddr, err)
	}
	return &Server{
		listener: ln,
		opts:     opts,
		log:      log,
		sessions: make(chan *Session, acceptBacklog),
	}, nil
}

// AcceptLoop blocks until Shutdown. Transient accept errors back off
// exponentially up to one second.
func (s *Server) AcceptLoop() {
	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopped.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			delay = min(max(delay*2, baseAcceptDelay), maxAcceptDelay)
			s.log.Error("連線接受失敗", zap.Error(err), zap.Duration("retry_in", delay))
			time.Sleep(delay)
			continue
		}
		delay = 0
		s.admit(conn)
	}
}

func (s *Server) admit(conn net.Conn) {
	sess := NewSession(conn, s.nextID.Add(1), s.opts, s.log)
	sess.Start()

	select {
	case s.sessions <- sess:
		s.log.Info("玩家連線", zap.Uint64("session", sess.ID), zap.String("ip", sess.IP))
	default:
		s.dropped.Add(1)
		s.log.Warn("連線佇列已滿，拒絕新連線", zap.String("ip", sess.IP))
		sess.Close()
	}
}

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.sessions
}

// Dropped returns how many connections were refused for a full backlog.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Shutdown stops accepting new connections. Established sessions are left
// to the world. Safe to call more than once.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.listener.Close()
	})
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
