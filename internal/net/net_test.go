package net

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/l1jgo/worldtick/internal/net/packet"
	"go.uber.org/zap"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte{packet.C_OPCODE_CHAT, 'h', 'i', 0}); err != nil {
		t.Fatal(err)
	}
	if got := buf.Bytes()[:2]; got[0] != 6 || got[1] != 0 {
		t.Fatalf("length header = %v, want [6 0]", got)
	}
	payload, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(payload, []byte{packet.C_OPCODE_CHAT, 'h', 'i', 0}) {
		t.Fatalf("payload = %v", payload)
	}
	if _, err := ReadFrame(&buf); !errors.Is(err, io.EOF) {
		t.Fatalf("read past end: %v", err)
	}
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	if _, err := ReadFrame(bytes.NewReader([]byte{2, 0})); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("empty frame: %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{1, 0})); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("short length: %v", err)
	}
	if err := WriteFrame(io.Discard, make([]byte, MaxPayload+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("oversized write: %v", err)
	}
}

func newPipeSession(t *testing.T, opts SessionOptions) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	s := NewSession(server, 1, opts, zap.NewNop())
	s.Start()
	t.Cleanup(func() {
		s.Close()
		client.Close()
	})
	return s, client
}

func TestSessionDeliversInboundFrames(t *testing.T) {
	s, client := newPipeSession(t, SessionOptions{InQueueSize: 4, OutQueueSize: 4})
	time.Sleep(20 * time.Millisecond)
	before := s.SinceLastContact()

	go WriteFrame(client, []byte{packet.C_OPCODE_KEEPALIVE})

	select {
	case data := <-s.InQueue:
		if len(data) != 1 || data[0] != packet.C_OPCODE_KEEPALIVE {
			t.Fatalf("got %v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
	if s.SinceLastContact() >= before {
		t.Fatal("inbound frame did not refresh last contact")
	}
}

func TestSessionFlushWritesBufferedPackets(t *testing.T) {
	s, client := newPipeSession(t, SessionOptions{InQueueSize: 4, OutQueueSize: 4})
	s.Send([]byte{packet.S_OPCODE_MESSAGE, 'a', 0, 0})
	s.Send([]byte{packet.S_OPCODE_MESSAGE, 'b', 0, 0})
	if s.Pending() != 2 {
		t.Fatalf("pending = %d", s.Pending())
	}
	s.FlushOutput()
	if s.Pending() != 0 {
		t.Fatal("flush left packets buffered")
	}
	for _, want := range []byte{'a', 'b'} {
		client.SetReadDeadline(time.Now().Add(time.Second))
		got, err := ReadFrame(client)
		if err != nil {
			t.Fatal(err)
		}
		if got[1] != want {
			t.Fatalf("got %q, want %q", got[1], want)
		}
	}
}

func TestSessionPacketBudget(t *testing.T) {
	s, _ := newPipeSession(t, SessionOptions{PacketsPerTick: 2})
	if !s.TakePacket() || !s.TakePacket() {
		t.Fatal("budget refused within limit")
	}
	if s.TakePacket() {
		t.Fatal("budget exceeded")
	}
	s.ResetPacketCount()
	if !s.TakePacket() {
		t.Fatal("reset did not restore budget")
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s, _ := newPipeSession(t, SessionOptions{})
	s.Disconnect()
	s.Close()
	if !s.IsClosed() || s.State() != packet.StateDisconnecting {
		t.Fatal("session not closed")
	}
	s.Send([]byte{1})
	if s.Pending() != 0 {
		t.Fatal("send after close was buffered")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("done channel still open")
	}
}

func TestServerAcceptsSessions(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", SessionOptions{InQueueSize: 4, OutQueueSize: 4}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	go srv.AcceptLoop()
	defer srv.Shutdown()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	select {
	case sess := <-srv.NewSessions():
		if sess.ID != 1 || sess.State() != packet.StateConnected {
			t.Fatalf("session id=%d state=%s", sess.ID, sess.State())
		}
		sess.Close()
	case <-time.After(time.Second):
		t.Fatal("no session accepted")
	}
}
