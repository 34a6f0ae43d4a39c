package wire

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns frames into bytes and back. The format is negotiated once
// per connection during the auth handshake; the handshake itself is
// always JSON so either side can read it before negotiation completes.
type Codec interface {
	Encode(frame *Frame) ([]byte, error)
	Decode(data []byte) (*Frame, error)
	Name() string
}

// Codec names accepted in the auth request's format field.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec maps a negotiated format name to a codec. Unknown or empty
// names fall back to JSON rather than failing the handshake.
func GetCodec(name string) Codec {
	if name == CodecNameMsgpack {
		return &MsgpackCodec{}
	}
	return &JSONCodec{}
}

// JSONCodec is the default frame codec.
type JSONCodec struct{}

func (*JSONCodec) Name() string { return CodecNameJSON }

func (*JSONCodec) Encode(frame *Frame) ([]byte, error) {
	return json.Marshal(frame)
}

func (*JSONCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("conveyor/wire: decode json frame: %w", err)
	}
	return &f, nil
}

// MsgpackCodec is the compact binary codec, opted into at auth time.
type MsgpackCodec struct{}

func (*MsgpackCodec) Name() string { return CodecNameMsgpack }

func (*MsgpackCodec) Encode(frame *Frame) ([]byte, error) {
	return msgpack.Marshal(frame)
}

func (*MsgpackCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("conveyor/wire: decode msgpack frame: %w", err)
	}
	return &f, nil
}
