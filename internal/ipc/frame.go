// Package ipc implements the local binary RPC transport: length-prefixed
// JSON frames over a Unix socket or a Windows named pipe.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Opcode is the frame type carried in the first header word.
type Opcode int32

const (
	OpHandshake Opcode = iota
	OpFrame
	OpClose
	OpPing
	OpPong
)

func (op Opcode) String() string {
	switch op {
	case OpHandshake:
		return "HANDSHAKE"
	case OpFrame:
		return "FRAME"
	case OpClose:
		return "CLOSE"
	case OpPing:
		return "PING"
	case OpPong:
		return "PONG"
	default:
		return fmt.Sprintf("Opcode(%d)", int32(op))
	}
}

func (op Opcode) valid() bool { return op >= OpHandshake && op <= OpPong }

const (
	headerLen = 8
	// DefaultMaxPayload bounds a single frame body.
	DefaultMaxPayload = 1 << 20
)

var (
	ErrPayloadTooLarge = errors.New("ipc: payload too large")
	ErrInvalidOpcode   = errors.New("ipc: invalid opcode")
)

// Frame is one complete wire message.
type Frame struct {
	Op      Opcode
	Payload []byte
}

// ReadFrame reads exactly one frame from r, blocking until the full
// declared length has arrived. The body is consumed before the opcode is
// checked, so an ErrInvalidOpcode leaves r at the next frame boundary.
func ReadFrame(r io.Reader, maxPayload int) (Frame, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	op := Opcode(int32(binary.LittleEndian.Uint32(header[0:4])))
	size := int32(binary.LittleEndian.Uint32(header[4:8]))
	if size < 0 || int(size) > maxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	if !op.valid() {
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidOpcode, int32(op))
	}
	return Frame{Op: op, Payload: payload}, nil
}

// WriteFrame writes f in a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	buf := make([]byte, headerLen+len(f.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.Op))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(f.Payload)))
	copy(buf[headerLen:], f.Payload)
	_, err := w.Write(buf)
	return err
}

// EncodeFrame marshals v as the JSON payload of an op frame.
func EncodeFrame(op Opcode, v any) (Frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s payload: %w", op, err)
	}
	return Frame{Op: op, Payload: payload}, nil
}

// closePayload is the body of a CLOSE frame.
type closePayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
