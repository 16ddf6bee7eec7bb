// Package wire implements the salesdb binary protocol.
//
// Every message is a Frame:
//
//	[u32 totalSize][i32 tag][i32 opcode][payload: totalSize-8 bytes]
//
// All integers are big-endian. The tag correlates a response with the request
// that caused it; the transport itself never interprets it.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/xtxerr/salesdb/internal/errors"
)

// headerSize is the fixed part of a frame after the length prefix.
const headerSize = 8

// Frame is one request or response on the wire.
type Frame struct {
	Tag     int32
	Opcode  Opcode
	Payload []byte
}

// Size returns the value of the totalSize prefix for this frame.
func (f *Frame) Size() int {
	return headerSize + len(f.Payload)
}

// WriteFrame encodes f onto w in a single Write call.
func WriteFrame(w io.Writer, f *Frame) error {
	buf := make([]byte, 4+headerSize, 4+headerSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(f.Size()))
	binary.BigEndian.PutUint32(buf[4:8], uint32(f.Tag))
	binary.BigEndian.PutUint32(buf[8:12], uint32(f.Opcode))
	buf = append(buf, f.Payload...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame decodes the next frame from r.
// maxSize bounds totalSize; zero disables the check.
func ReadFrame(r io.Reader, maxSize int) (*Frame, error) {
	var hdr [4 + headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	total := binary.BigEndian.Uint32(hdr[0:4])
	if total < headerSize {
		return nil, fmt.Errorf("%w: size %d below header size", errors.ErrMalformedPayload, total)
	}
	if maxSize > 0 && int64(total) > int64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", errors.ErrFrameTooLarge, total, maxSize)
	}

	f := &Frame{
		Tag:     int32(binary.BigEndian.Uint32(hdr[4:8])),
		Opcode:  Opcode(int32(binary.BigEndian.Uint32(hdr[8:12]))),
		Payload: make([]byte, total-headerSize),
	}
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return f, nil
}
