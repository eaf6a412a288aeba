// Package protocol defines the framed binary wire format shared by the
// hot-key server and its clients.
package protocol

import "fmt"

// CommandType values are written to the wire; reordering them breaks
// compatibility with deployed peers.
type CommandType uint32

const (
	AccessReport CommandType = iota
	HotKeyQuery
	AdminPing
	HotKeyPush
	PushChannelRegister
)

var commandNames = [...]string{
	AccessReport:        "ACCESS_REPORT",
	HotKeyQuery:         "HOT_KEY_QUERY",
	AdminPing:           "ADMIN_PING",
	HotKeyPush:          "HOT_KEY_PUSH",
	PushChannelRegister: "PUSH_CHANNEL_REGISTER",
}

func (t CommandType) Valid() bool { return int(t) < len(commandNames) }

func (t CommandType) String() string {
	if t.Valid() {
		return commandNames[t]
	}
	return fmt.Sprintf("COMMAND(%d)", uint32(t))
}

// Command is one decoded frame. RequestID 0 marks a one-way message; any
// other id is echoed by the responder.
type Command struct {
	Type      CommandType
	RequestID uint64
	Payload   []byte
}

func NewCommand(t CommandType, requestID uint64, payload []byte) Command {
	var p []byte
	if len(payload) > 0 {
		p = make([]byte, len(payload))
		copy(p, payload)
	}
	return Command{Type: t, RequestID: requestID, Payload: p}
}

func (c Command) OneWay() bool { return c.RequestID == 0 }

// Reply builds a response of the same type carrying the caller's id.
func (c Command) Reply(payload []byte) Command {
	return NewCommand(c.Type, c.RequestID, payload)
}
