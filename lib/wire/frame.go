// Package wire implements the length-prefixed binary framing used by both
// daemons, plus the primitive value encoders shared by their wire protocols.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLen bounds a single frame's payload length. The wire format itself
// allows up to math.MaxUint32; this is a sanity cap against a corrupt or
// hostile length prefix forcing an enormous allocation.
const MaxFrameLen = 256 * 1024 * 1024

// ErrFrameTooLarge is returned by ReadFrame when the length prefix exceeds MaxFrameLen.
var ErrFrameTooLarge = errors.New("wire: frame length exceeds maximum")

// ReadFrame reads one length-prefixed frame from r, capped at MaxFrameLen.
//
// A clean EOF while reading the 4-byte length prefix returns (nil, io.EOF)
// with io.EOF returned verbatim — callers use this to distinguish "peer closed
// the connection" from a genuine transport error. Any other short read (EOF in
// the middle of the length prefix, or in the middle of the payload) is reported
// as io.ErrUnexpectedEOF via io.ReadFull.
func ReadFrame(r io.Reader) ([]byte, error) {
	return ReadFrameLimit(r, MaxFrameLen)
}

// ReadFrameLimit is ReadFrame with a caller-supplied cap instead of
// MaxFrameLen, so a daemon can honor its own configured MAX_FRAME_BYTES.
func ReadFrameLimit(r io.Reader, maxLen uint32) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: read frame length: %w", err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxLen {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("wire: read frame payload: %w", err)
		}
	}
	return buf, nil
}

// WriteFrame writes payload as one length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("wire: write frame payload: %w", err)
		}
	}
	return nil
}
