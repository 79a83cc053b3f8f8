package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Frames are [2 bytes LE: length including header][payload].
const (
	frameHeaderLen = 2
	MaxPayload     = 0xFFFF - frameHeaderLen
)

var (
	ErrEmptyFrame    = errors.New("empty frame")
	ErrFrameTooLarge = errors.New("frame too large")
)

var framePool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 256)
		return &b
	},
}

// ReadFrame reads one frame from r and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	total := int(binary.LittleEndian.Uint16(header[:]))
	n := total - frameHeaderLen
	switch {
	case n == 0:
		return nil, ErrEmptyFrame
	case n < 0:
		return nil, fmt.Errorf("frame length %d: %w", total, ErrEmptyFrame)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", n, err)
	}
	return payload, nil
}

// WriteFrame writes data as one frame with a single Write call, so a
// deadline on w covers the header and payload together.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyFrame
	}
	if len(data) > MaxPayload {
		return fmt.Errorf("payload %d bytes: %w", len(data), ErrFrameTooLarge)
	}

	bp := framePool.Get().(*[]byte)
	buf := binary.LittleEndian.AppendUint16((*bp)[:0], uint16(len(data)+frameHeaderLen))
	buf = append(buf, data...)
	_, err := w.Write(buf)
	*bp = buf
	framePool.Put(bp)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
