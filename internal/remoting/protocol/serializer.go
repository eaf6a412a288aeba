package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer encodes command payloads. Both ends of a connection must use
// the same one.
type Serializer interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type MsgpackSerializer struct{}

func (MsgpackSerializer) Name() string { return "msgpack" }

func (MsgpackSerializer) Marshal(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal %T: %w", v, err)
	}
	return b, nil
}

func (MsgpackSerializer) Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgpack unmarshal %T: %w", v, err)
	}
	return nil
}

type JSONSerializer struct{}

func (JSONSerializer) Name() string { return "json" }

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal %T: %w", v, err)
	}
	return b, nil
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json unmarshal %T: %w", v, err)
	}
	return nil
}

var serializers = map[string]Serializer{
	"msgpack": MsgpackSerializer{},
	"json":    JSONSerializer{},
}

// SerializerByName resolves a configured serializer; empty selects msgpack.
func SerializerByName(name string) (Serializer, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "msgpack"
	}
	if s, ok := serializers[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown serializer %q", name)
}
