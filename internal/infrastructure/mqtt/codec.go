package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Payload formats accepted in mqtt.payload_format.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Encoder serialises a payload for the wire.
type Encoder func(v any) ([]byte, error)

// EncoderFor returns the encoder for a payload format. An empty format means JSON.
func EncoderFor(format string) (Encoder, error) {
	switch format {
	case "", FormatJSON:
		return json.Marshal, nil
	case FormatMsgpack:
		return msgpack.Marshal, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
