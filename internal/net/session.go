package net

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l1jgo/worldtick/internal/net/packet"
	"go.uber.org/zap"
)

// Session represents a single client connection. Network I/O runs in
// dedicated goroutines; inbound packets are consumed by the tick driver,
// outbound packets may be buffered from update workers.
type Session struct {
	ID   uint64
	conn net.Conn

	state atomic.Int32 // packet.SessionState stored as int32

	InQueue  chan []byte // tick driver reads packets from here
	OutQueue chan []byte // writer goroutine reads from here

	IP       string
	CharName string

	outMu  sync.Mutex
	outBuf [][]byte // flushed once per tick by the output system

	lastContact atomic.Int64 // unix nanos of the last inbound frame

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	// per-tick inbound budget, reset after the actor's post-update
	pktBudget int
	pktCount  atomic.Int32

	writeTimeout time.Duration
	readTimeout  time.Duration

	log *zap.Logger
}

// SessionOptions sizes the queues and budgets of a session.
type SessionOptions struct {
	InQueueSize    int
	OutQueueSize   int
	PacketsPerTick int // 0 = unlimited
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
}

func NewSession(conn net.Conn, id uint64, opts SessionOptions, log *zap.Logger) *Session {
	s := &Session{
		ID:           id,
		conn:         conn,
		InQueue:      make(chan []byte, max(opts.InQueueSize, 1)),
		OutQueue:     make(chan []byte, max(opts.OutQueueSize, 1)),
		IP:           conn.RemoteAddr().String(),
		closeCh:      make(chan struct{}),
		pktBudget:    opts.PacketsPerTick,
		writeTimeout: opts.WriteTimeout,
		readTimeout:  opts.ReadTimeout,
		log:          log.With(zap.Uint64("session", id)),
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 10 * time.Second
	}
	s.state.Store(int32(packet.StateConnected))
	s.touch()
	return s
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

func (s *Session) SetState(st packet.SessionState) {
	s.state.Store(int32(st))
}

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

func (s *Session) touch() { s.lastContact.Store(time.Now().UnixNano()) }

// SinceLastContact is the time since the last inbound frame, keepalives
// included.
func (s *Session) SinceLastContact() time.Duration {
	return time.Since(time.Unix(0, s.lastContact.Load()))
}

// Send buffers a packet. It is not written to TCP until FlushOutput.
// Safe from update workers.
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	s.outMu.Lock()
	s.outBuf = append(s.outBuf, data)
	s.outMu.Unlock()
}

// FlushOutput drains the output buffer to OutQueue for the writeLoop goroutine.
// Non-blocking: if OutQueue is full, the session is disconnected (backpressure).
func (s *Session) FlushOutput() {
	s.outMu.Lock()
	buf := s.outBuf
	s.outBuf = nil
	s.outMu.Unlock()

	for _, data := range buf {
		select {
		case s.OutQueue <- data:
		default:
			s.log.Warn("輸出佇列已滿，斷開慢速連線")
			s.Close()
			return
		}
	}
}

// Pending returns the number of buffered, unflushed packets.
func (s *Session) Pending() int {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return len(s.outBuf)
}

// TakePacket charges one inbound packet against this tick's budget and
// reports whether it may be handled now.
func (s *Session) TakePacket() bool {
	if s.pktBudget <= 0 {
		return true
	}
	if int(s.pktCount.Load()) >= s.pktBudget {
		return false
	}
	s.pktCount.Add(1)
	return true
}

// ResetPacketCount restores the per-tick inbound budget.
func (s *Session) ResetPacketCount() { s.pktCount.Store(0) }

// Disconnect closes the session; the world uses it on eviction.
func (s *Session) Disconnect() { s.Close() }

// Close gracefully shuts down the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(packet.StateDisconnecting)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.closeCh }

// readLoop runs in its own goroutine. It reads frames from the TCP connection
// and pushes them onto InQueue for the tick driver to consume.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		if s.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("讀取錯誤", zap.Error(err))
			}
			return
		}
		s.touch()

		// Block until InQueue has space or session closes. Dropping
		// movement packets would desync the server-tracked position.
		select {
		case s.InQueue <- payload:
		case <-s.closeCh:
			return
		}
	}
}

// writeLoop runs in its own goroutine. It reads packets from OutQueue and
// writes them as framed data to the TCP connection.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if !s.writeOnePacket(data) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

// writeOnePacket 寫入單一封包到 TCP socket。成功回傳 true。
func (s *Session) writeOnePacket(data []byte) bool {
	if len(data) > 0 {
		s.log.Debug("TX",
			zap.String("op", fmt.Sprintf("0x%02X(%d)", data[0], data[0])),
			zap.Int("len", len(data)),
		)
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := WriteFrame(s.conn, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("寫入錯誤", zap.Error(err))
		}
		return false
	}
	return true
}
