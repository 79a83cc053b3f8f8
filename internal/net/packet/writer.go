package packet

import (
	"encoding/binary"
	"sync"

	"golang.org/x/text/encoding/traditionalchinese"
)

// Writer builds an outgoing packet: an opcode byte followed by
// little-endian fields. Bytes pads the result to a 4-byte boundary.
//
// Update workers build packets concurrently, so Writers come from a pool;
// call Release once the bytes have been copied or handed off.
type Writer struct {
	buf []byte
}

var writerPool = sync.Pool{
	New: func() any { return &Writer{buf: make([]byte, 0, 256)} },
}

func NewWriter() *Writer {
	w := writerPool.Get().(*Writer)
	w.buf = w.buf[:0]
	return w
}

func NewWriterWithOpcode(opcode byte) *Writer {
	w := NewWriter()
	w.WriteC(opcode)
	return w
}

// Release returns w to the pool. w must not be used afterwards.
func (w *Writer) Release() {
	if cap(w.buf) > 64*1024 {
		return // let oversized buffers go
	}
	writerPool.Put(w)
}

func (w *Writer) WriteC(v byte) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteH(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteD(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteDU(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteS writes a null-terminated string encoded as MS950 (Big5).
// Characters Big5 cannot represent fall back to the raw UTF-8 bytes.
func (w *Writer) WriteS(s string) {
	if s != "" {
		if encoded, err := traditionalchinese.Big5.NewEncoder().Bytes([]byte(s)); err == nil {
			w.buf = append(w.buf, encoded...)
		} else {
			w.buf = append(w.buf, s...)
		}
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteBlock writes b prefixed with its 2-byte length.
func (w *Writer) WriteBlock(b []byte) {
	w.WriteH(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

// Bytes returns a copy of the packet padded to a 4-byte boundary.
// The copy outlives Release.
func (w *Writer) Bytes() []byte {
	n := len(w.buf)
	if rem := n % 4; rem != 0 {
		n += 4 - rem
	}
	out := make([]byte, n)
	copy(out, w.buf)
	return out
}

// RawBytes returns a copy of the unpadded content.
func (w *Writer) RawBytes() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

// Len returns the current unpadded length.
func (w *Writer) Len() int {
	return len(w.buf)
}
