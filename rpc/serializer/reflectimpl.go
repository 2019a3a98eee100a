package serializer

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/ValentinKolb/dORM/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding.
// The message type is written by name, see common.MessageType.MarshalJSON
func NewJSONSerializer() IRPCSerializer {
	return &reflectSerializerImpl{
		encode: json.Marshal,
		decode: json.Unmarshal,
	}
}

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IRPCSerializer {
	return &reflectSerializerImpl{
		encode: func(v any) ([]byte, error) {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		decode: func(b []byte, v any) error {
			return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
		},
	}
}

// reflectSerializerImpl implements the IRPCSerializer interface on top of a
// reflection based codec of the standard library
type reflectSerializerImpl struct {
	encode func(any) ([]byte, error)
	decode func([]byte, any) error
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (r *reflectSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	return r.encode(msg)
}

func (r *reflectSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	// both codecs merge into existing fields of a reused message
	*msg = common.Message{}
	return r.decode(b, msg)
}
