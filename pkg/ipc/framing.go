package ipc

import (
	"encoding/binary"
	"io"

	"github.com/valyala/bytebufferpool"

	"github.com/ryoha000/proctail/pkg/errors"
)

// MaxMessageSize bounds a single framed message body; exceeding it closes
// the connection with an IpcFraming error.
const MaxMessageSize = 1 << 20 // 1 MiB

// readFrame reads one length-prefixed message from r. A zero-length frame
// and io.EOF both return (nil, io.EOF) so the caller can tell "no message,
// keep looping or close" apart from a genuine decode failure.
//
// The pooled buffer from bytebufferpool is resized in place rather than
// replaced, so a connection that keeps reusing roughly the same message
// size stops growing its buffer after the first frame; the slice handed
// back to the caller is always a fresh copy, since buf returns to the pool
// (and can be reused by another connection) the moment this function
// returns.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, io.EOF
	}
	if n > MaxMessageSize {
		return nil, errors.Newf(errors.KindIPCFraming, "frame of %d bytes exceeds the %d byte limit", n, MaxMessageSize)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if cap(buf.B) < int(n) {
		buf.B = make([]byte, n)
	} else {
		buf.B = buf.B[:n]
	}
	if _, err := io.ReadFull(r, buf.B); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf.B)
	return out, nil
}

// writeFrame writes payload as a single length-prefixed message.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return errors.Newf(errors.KindIPCFraming, "response of %d bytes exceeds the %d byte limit", len(payload), MaxMessageSize)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
