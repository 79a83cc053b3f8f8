package packet

import (
	"fmt"

	"go.uber.org/zap"
)

// SessionState is the protocol phase of a connection.
type SessionState int

const (
	StateConnected SessionState = iota // awaiting login
	StateInWorld                       // registered as a player
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateInWorld:
		return "InWorld"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// HandlerFunc handles one decoded packet. sess is opaque to keep this
// package free of session and world imports.
type HandlerFunc func(sess any, r *Reader)

type handlerEntry struct {
	fn      HandlerFunc
	allowed map[SessionState]bool
}

// Registry maps opcodes to handlers, gated by session state.
type Registry struct {
	handlers map[byte]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[byte]*handlerEntry),
		log:      log,
	}
}

func (reg *Registry) Register(opcode byte, states []SessionState, fn HandlerFunc) {
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[opcode] = &handlerEntry{fn: fn, allowed: allowed}
}

// Dispatch runs the handler for data[0]. Unknown opcodes are ignored;
// an opcode outside its allowed states and a panicking handler are errors.
func (reg *Registry) Dispatch(sess any, state SessionState, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty packet")
	}
	opcode := data[0]
	entry, ok := reg.handlers[opcode]
	if !ok {
		reg.log.Debug("未知操作碼", zap.Uint8("opcode", opcode), zap.Stringer("state", state))
		return nil
	}
	if !entry.allowed[state] {
		return fmt.Errorf("opcode %d not allowed in state %s", opcode, state)
	}
	return reg.safeCall(entry.fn, sess, NewReader(data), opcode)
}

func (reg *Registry) safeCall(fn HandlerFunc, sess any, r *Reader, opcode byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("處理器 panic 已恢復", zap.Uint8("opcode", opcode), zap.Any("panic", rec))
			err = fmt.Errorf("handler panic for opcode %d: %v", opcode, rec)
		}
	}()
	fn(sess, r)
	return r.Err()
}
