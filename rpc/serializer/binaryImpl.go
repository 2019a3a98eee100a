package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/ValentinKolb/dORM/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: 1 byte MsgType, 2 bytes flags (big endian), then every present field in
// the order of the flags below. Strings and byte slices are prefixed with their
// length as uint32, lists with their element count as uint32.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey      uint16 = 1 << 0
	hasValue    uint16 = 1 << 1
	hasKeys     uint16 = 1 << 2
	hasValues   uint16 = 1 << 3
	hasOps      uint16 = 1 << 4
	hasTTL      uint16 = 1 << 5
	hasDelta    uint16 = 1 << 6
	hasAfter    uint16 = 1 << 7
	hasLimit    uint16 = 1 << 8
	hasKeysOnly uint16 = 1 << 9
	hasOk       uint16 = 1 << 10
	hasCode     uint16 = 1 << 11
	hasErr      uint16 = 1 << 12
)

const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	w := writer{buf: make([]byte, headerSize, b.sizeBytes(msg))}
	w.buf[0] = byte(msg.MsgType)

	var flags uint16
	if msg.Key != "" {
		flags |= hasKey
		w.string(msg.Key)
	}
	if msg.Value != nil {
		flags |= hasValue
		w.bytes(msg.Value)
	}
	if msg.Keys != nil {
		flags |= hasKeys
		w.uint32(uint32(len(msg.Keys)))
		for _, key := range msg.Keys {
			w.string(key)
		}
	}
	if msg.Values != nil {
		flags |= hasValues
		w.uint32(uint32(len(msg.Values)))
		for _, value := range msg.Values {
			w.bytes(value)
		}
	}
	if msg.Ops != nil {
		flags |= hasOps
		w.uint32(uint32(len(msg.Ops)))
		for _, op := range msg.Ops {
			w.buf = append(w.buf, byte(op.Type))
			w.string(op.Key)
			w.bytes(op.Value)
		}
	}
	if msg.TTLMillis != 0 {
		flags |= hasTTL
		w.uint64(uint64(msg.TTLMillis))
	}
	if msg.Delta != 0 {
		flags |= hasDelta
		w.uint64(uint64(msg.Delta))
	}
	if msg.After != "" {
		flags |= hasAfter
		w.string(msg.After)
	}
	if msg.Limit != 0 {
		flags |= hasLimit
		w.uint32(msg.Limit)
	}
	if msg.KeysOnly {
		flags |= hasKeysOnly
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Code != store.RetCSuccess {
		flags |= hasCode
		w.uint64(uint64(msg.Code))
	}
	if msg.Err != "" {
		flags |= hasErr
		w.string(msg.Err)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(w.buf[1:3], flags)
	return w.buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	r := reader{data: data, pos: headerSize}

	if flags&hasKey != 0 {
		msg.Key = r.string("key")
	}
	if flags&hasValue != 0 {
		msg.Value = r.bytes("value")
	}
	if flags&hasKeys != 0 {
		n := r.count("keys", 4)
		msg.Keys = make([]string, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			msg.Keys = append(msg.Keys, r.string("keys"))
		}
	}
	if flags&hasValues != 0 {
		n := r.count("values", 4)
		msg.Values = make([][]byte, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			msg.Values = append(msg.Values, r.bytes("values"))
		}
	}
	if flags&hasOps != 0 {
		n := r.count("ops", 9)
		msg.Ops = make([]db.Op, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			op := db.Op{Type: db.OpType(r.byte("op type"))}
			op.Key = r.string("op key")
			value := r.bytes("op value")
			// only writes and value asserts carry a value
			if op.Type == db.OpSet || op.Type == db.OpAssert {
				op.Value = value
			}
			msg.Ops = append(msg.Ops, op)
		}
	}
	if flags&hasTTL != 0 {
		msg.TTLMillis = int64(r.uint64("ttl"))
	}
	if flags&hasDelta != 0 {
		msg.Delta = int64(r.uint64("delta"))
	}
	if flags&hasAfter != 0 {
		msg.After = r.string("after")
	}
	if flags&hasLimit != 0 {
		msg.Limit = r.uint32("limit")
	}
	msg.KeysOnly = flags&hasKeysOnly != 0
	msg.Ok = flags&hasOk != 0
	if flags&hasCode != 0 {
		msg.Code = store.RetCode(r.uint64("code"))
	}
	if flags&hasErr != 0 {
		msg.Err = r.string("error")
	}

	if r.err != nil {
		return r.err
	}
	if r.pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-r.pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Keys != nil {
		size += 4
		for _, key := range msg.Keys {
			size += 4 + len(key)
		}
	}
	if msg.Values != nil {
		size += 4
		for _, value := range msg.Values {
			size += 4 + len(value)
		}
	}
	if msg.Ops != nil {
		size += 4
		for _, op := range msg.Ops {
			size += 1 + 4 + len(op.Key) + 4 + len(op.Value)
		}
	}
	if msg.TTLMillis != 0 {
		size += 8
	}
	if msg.Delta != 0 {
		size += 8
	}
	if msg.After != "" {
		size += 4 + len(msg.After)
	}
	if msg.Limit != 0 {
		size += 4
	}
	if msg.Code != store.RetCSuccess {
		size += 8
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	return size
}

// writer appends big endian encoded fields to a buffer
type writer struct {
	buf []byte
}

func (w *writer) uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *writer) uint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *writer) string(s string) {
	w.uint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) bytes(b []byte) {
	w.uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// reader decodes fields and remembers the first error. After an error all reads return zero values.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return false
	}
	return true
}

func (r *reader) byte(field string) byte {
	if !r.need(1, field) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) uint32(field string) uint32 {
	if !r.need(4, field) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) uint64(field string) uint64 {
	if !r.need(8, field) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// count reads a list length and rejects counts that cannot fit into the remaining data
func (r *reader) count(field string, minElemSize int) int {
	n := int(r.uint32(field))
	if r.err == nil && n*minElemSize > len(r.data)-r.pos {
		r.err = fmt.Errorf("invalid element count %d for %s", n, field)
		return 0
	}
	return n
}

func (r *reader) string(field string) string {
	n := int(r.uint32(field))
	if !r.need(n, field) {
		return ""
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s
}

// bytes copies the data, the input buffer is reused by the transports
func (r *reader) bytes(field string) []byte {
	n := int(r.uint32(field))
	if !r.need(n, field) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b
}
