package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	lengthFieldSize = 4
	// HeaderSize is the part of the frame counted by the length field
	// before the payload: type (u32) and request id (u64).
	HeaderSize = 12

	DefaultMaxFrameBytes = 1 << 20
)

var (
	ErrFrameTooLarge  = errors.New("protocol: frame exceeds max size")
	ErrShortFrame     = errors.New("protocol: frame shorter than header")
	ErrUnknownCommand = errors.New("protocol: unknown command type")
)

// AppendFrame appends the encoded frame for c to dst.
func AppendFrame(dst []byte, c Command) []byte {
	length := safeUint32(HeaderSize + len(c.Payload))
	dst = binary.BigEndian.AppendUint32(dst, length)
	dst = binary.BigEndian.AppendUint32(dst, uint32(c.Type))
	dst = binary.BigEndian.AppendUint64(dst, c.RequestID)
	return append(dst, c.Payload...)
}

// FrameSize is the value of the length field for c.
func FrameSize(c Command) int { return HeaderSize + len(c.Payload) }

// Encode writes c as a single frame. maxFrame <= 0 disables the bound.
func Encode(w io.Writer, c Command, maxFrame int) error {
	if maxFrame > 0 && FrameSize(c) > maxFrame {
		return fmt.Errorf("encode %s (%d bytes): %w", c.Type, FrameSize(c), ErrFrameTooLarge)
	}
	buf := AppendFrame(make([]byte, 0, lengthFieldSize+FrameSize(c)), c)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Decoder reads length-prefixed frames, waiting for partial frames to
// complete. Any error it returns leaves the stream unusable.
type Decoder struct {
	r        *bufio.Reader
	maxFrame uint32
	hdr      [lengthFieldSize + HeaderSize]byte
}

func NewDecoder(r io.Reader, maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &Decoder{r: bufio.NewReaderSize(r, 32*1024), maxFrame: safeUint32(maxFrame)}
}

func (d *Decoder) Decode() (Command, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:lengthFieldSize]); err != nil {
		return Command{}, err
	}
	length := binary.BigEndian.Uint32(d.hdr[:lengthFieldSize])
	if length < HeaderSize {
		return Command{}, fmt.Errorf("length %d: %w", length, ErrShortFrame)
	}
	if length > d.maxFrame {
		return Command{}, fmt.Errorf("length %d > %d: %w", length, d.maxFrame, ErrFrameTooLarge)
	}
	if _, err := io.ReadFull(d.r, d.hdr[lengthFieldSize:]); err != nil {
		return Command{}, fmt.Errorf("read header: %w", unexpected(err))
	}
	t := CommandType(binary.BigEndian.Uint32(d.hdr[lengthFieldSize : lengthFieldSize+4]))
	if !t.Valid() {
		return Command{}, fmt.Errorf("type %d: %w", uint32(t), ErrUnknownCommand)
	}
	id := binary.BigEndian.Uint64(d.hdr[lengthFieldSize+4:])

	var payload []byte
	if n := int(length) - HeaderSize; n > 0 {
		payload = make([]byte, n)
		if _, err := io.ReadFull(d.r, payload); err != nil {
			return Command{}, fmt.Errorf("read payload: %w", unexpected(err))
		}
	}
	return Command{Type: t, RequestID: id, Payload: payload}, nil
}

// a stream ending mid-frame is always truncation, never a clean close
func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func safeUint32(n int) uint32 {
	if n <= 0 {
		return 0
	}
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}
