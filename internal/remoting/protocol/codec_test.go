package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"
)

func TestEncode_LayoutIsLengthTypeIDPayload(t *testing.T) {
	var buf bytes.Buffer
	cmd := NewCommand(HotKeyQuery, 42, []byte("abc"))
	if err := Encode(&buf, cmd, 0); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b := buf.Bytes()
	if len(b) != 4+12+3 {
		t.Fatalf("frame len=%d want 19", len(b))
	}
	if got := binary.BigEndian.Uint32(b[0:4]); got != 15 {
		t.Fatalf("length field=%d want 15", got)
	}
	if got := binary.BigEndian.Uint32(b[4:8]); got != uint32(HotKeyQuery) {
		t.Fatalf("type field=%d want %d", got, HotKeyQuery)
	}
	if got := binary.BigEndian.Uint64(b[8:16]); got != 42 {
		t.Fatalf("request id=%d want 42", got)
	}
	if string(b[16:]) != "abc" {
		t.Fatalf("payload=%q", b[16:])
	}
}

func TestCommandTypes_StableWireValues(t *testing.T) {
	want := map[CommandType]uint32{
		AccessReport: 0, HotKeyQuery: 1, AdminPing: 2, HotKeyPush: 3, PushChannelRegister: 4,
	}
	for ct, v := range want {
		if uint32(ct) != v {
			t.Fatalf("%s=%d want %d", ct, uint32(ct), v)
		}
	}
	if CommandType(5).Valid() {
		t.Fatalf("type 5 must be invalid")
	}
}

func TestDecoder_BuffersPartialFrames(t *testing.T) {
	var buf bytes.Buffer
	_ = Encode(&buf, NewCommand(AccessReport, 0, []byte("first")), 0)
	_ = Encode(&buf, NewCommand(AdminPing, 7, nil), 0)

	d := NewDecoder(iotest.OneByteReader(&buf), 0)
	c1, err := d.Decode()
	if err != nil {
		t.Fatalf("decode 1: %v", err)
	}
	if c1.Type != AccessReport || !c1.OneWay() || string(c1.Payload) != "first" {
		t.Fatalf("unexpected first command: %+v", c1)
	}
	c2, err := d.Decode()
	if err != nil {
		t.Fatalf("decode 2: %v", err)
	}
	if c2.Type != AdminPing || c2.RequestID != 7 || len(c2.Payload) != 0 {
		t.Fatalf("unexpected second command: %+v", c2)
	}
	if _, err := d.Decode(); !errors.Is(err, io.EOF) {
		t.Fatalf("want clean EOF at frame boundary, got %v", err)
	}
}

func TestDecoder_RejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	_ = Encode(&buf, NewCommand(AccessReport, 0, make([]byte, 100)), 0)

	d := NewDecoder(&buf, 64)
	if _, err := d.Decode(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("want ErrFrameTooLarge, got %v", err)
	}
}

func TestEncode_RejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, NewCommand(HotKeyPush, 0, make([]byte, 100)), 64)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("want ErrFrameTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written, got %d bytes", buf.Len())
	}
}

func TestDecoder_RejectsShortAndUnknownFrames(t *testing.T) {
	short := binary.BigEndian.AppendUint32(nil, 4)
	short = append(short, 0, 0, 0, 0)
	if _, err := NewDecoder(bytes.NewReader(short), 0).Decode(); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("want ErrShortFrame, got %v", err)
	}

	unknown := AppendFrame(nil, Command{Type: CommandType(99), RequestID: 1})
	if _, err := NewDecoder(bytes.NewReader(unknown), 0).Decode(); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("want ErrUnknownCommand, got %v", err)
	}
}

func TestDecoder_TruncatedPayloadIsUnexpectedEOF(t *testing.T) {
	frame := AppendFrame(nil, NewCommand(HotKeyPush, 0, []byte("payload")))
	d := NewDecoder(bytes.NewReader(frame[:len(frame)-2]), 0)
	if _, err := d.Decode(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("want ErrUnexpectedEOF, got %v", err)
	}
}

func TestReply_EchoesRequestID(t *testing.T) {
	req := NewCommand(HotKeyQuery, 9001, []byte("q"))
	rep := req.Reply([]byte("r"))
	if rep.RequestID != 9001 || rep.Type != HotKeyQuery || string(rep.Payload) != "r" {
		t.Fatalf("unexpected reply: %+v", rep)
	}
}
