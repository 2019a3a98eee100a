package common

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key       string   `json:"key,omitempty"`        // Used for: all single key operations, the prefix of Scan
	Value     []byte   `json:"value,omitempty"`      // Used for: Set, Add (request), Get, Info (response)
	Keys      []string `json:"keys,omitempty"`       // Used for: GetMulti (request), Scan (response)
	Values    [][]byte `json:"values,omitempty"`     // Used for: GetMulti, Scan (response)
	Ops       []db.Op  `json:"ops,omitempty"`        // Used for: Apply
	TTLMillis int64    `json:"ttl_millis,omitempty"` // Used for: volatile Set, Add
	Delta     int64    `json:"delta,omitempty"`      // Used for: Incr (request and response)

	// Scan fields
	After    string `json:"after,omitempty"`
	Limit    uint32 `json:"limit,omitempty"`
	KeysOnly bool   `json:"keys_only,omitempty"`

	// Response only fields
	Ok   bool          `json:"ok,omitempty"`   // Used for: volatile Get, Add
	Code store.RetCode `json:"code,omitempty"` // Return code of the store, RetCSuccess if Err is empty
	Err  string        `json:"err,omitempty"`  // Empty if no error, otherwise contains the error message
}

// TTL returns the ttl of a volatile write
func (m *Message) TTL() time.Duration {
	return time.Duration(m.TTLMillis) * time.Millisecond
}

// AsError rebuilds the store error carried by a response (nil if the response is no error).
// The key of the error is transported in Key.
func (m *Message) AsError() error {
	if m.MsgType != MsgTError && m.Err == "" {
		return nil
	}
	code := m.Code
	if code == store.RetCSuccess {
		code = store.RetCInternalError
	}
	return &store.Error{Code: code, Key: m.Key, Msg: m.Err}
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewResponse creates a response of the given type. If err is not nil the error
// message and the return code of the store are set.
func NewResponse(msgType MessageType, err error) *Message {
	msg := &Message{MsgType: msgType}
	if err != nil {
		msg.setErr(err)
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(code store.RetCode, err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Code:    code,
		Err:     err,
	}
}

func (m *Message) setErr(err error) {
	m.Err = err.Error()
	m.Code = store.RetCInternalError
	if storeErr, ok := err.(*store.Error); ok {
		m.Code = storeErr.Code
		m.Key = storeErr.Key
		m.Err = storeErr.Msg
	}
}

// NewGetRequest creates a new persistent Get request
func NewGetRequest(key string) *Message {
	return &Message{MsgType: MsgTPGet, Key: key}
}

// NewGetMultiRequest creates a new persistent GetMulti request
func NewGetMultiRequest(keys []string) *Message {
	return &Message{MsgType: MsgTPGetMulti, Keys: keys}
}

// NewScanRequest creates a request for one page of a prefix range
func NewScanRequest(prefix, after string, limit int, keysOnly bool) *Message {
	return &Message{
		MsgType:  MsgTPScan,
		Key:      prefix,
		After:    after,
		Limit:    uint32(limit),
		KeysOnly: keysOnly,
	}
}

// NewScanResponse creates the response for a page of entries
func NewScanResponse(page []db.Entry, keysOnly bool, err error) *Message {
	msg := NewResponse(MsgTPScan, err)
	if err != nil {
		return msg
	}
	msg.Keys = make([]string, len(page))
	if !keysOnly {
		msg.Values = make([][]byte, len(page))
	}
	for i, e := range page {
		msg.Keys[i] = e.Key
		if !keysOnly {
			msg.Values[i] = e.Value
		}
	}
	return msg
}

// Entries converts the Keys and Values of a scan response into entries
func (m *Message) Entries() []db.Entry {
	page := make([]db.Entry, len(m.Keys))
	for i, key := range m.Keys {
		page[i].Key = key
		if i < len(m.Values) {
			page[i].Value = m.Values[i]
		}
	}
	return page
}

// NewSetRequest creates a new persistent Set request
func NewSetRequest(key string, value []byte) *Message {
	return &Message{MsgType: MsgTPSet, Key: key, Value: value}
}

// NewDeleteRequest creates a new persistent Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{MsgType: MsgTPDelete, Key: key}
}

// NewApplyRequest creates a request that applies all ops atomically
func NewApplyRequest(ops []db.Op) *Message {
	return &Message{MsgType: MsgTPApply, Ops: ops}
}

// NewInfoRequest creates a request for the database info of a shard (persistent or volatile)
func NewInfoRequest(msgType MessageType) *Message {
	return &Message{MsgType: msgType}
}

// NewInfoResponse creates a response carrying the json encoded database info
func NewInfoResponse(msgType MessageType, info db.DatabaseInfo, err error) *Message {
	msg := NewResponse(msgType, err)
	if err != nil {
		return msg
	}
	value, err := json.Marshal(info)
	if err != nil {
		msg.setErr(err)
		return msg
	}
	msg.Value = value
	return msg
}

// NewVolatileGetRequest creates a new volatile Get request
func NewVolatileGetRequest(key string) *Message {
	return &Message{MsgType: MsgTVGet, Key: key}
}

// NewVolatileSetRequest creates a new volatile Set request
func NewVolatileSetRequest(key string, value []byte, ttl time.Duration) *Message {
	return &Message{MsgType: MsgTVSet, Key: key, Value: value, TTLMillis: ttl.Milliseconds()}
}

// NewVolatileAddRequest creates a new volatile Add request
func NewVolatileAddRequest(key string, value []byte, ttl time.Duration) *Message {
	return &Message{MsgType: MsgTVAdd, Key: key, Value: value, TTLMillis: ttl.Milliseconds()}
}

// NewVolatileDeleteRequest creates a new volatile Delete request
func NewVolatileDeleteRequest(key string) *Message {
	return &Message{MsgType: MsgTVDelete, Key: key}
}

// NewVolatileIncrRequest creates a new volatile Incr request
func NewVolatileIncrRequest(key string, delta int64) *Message {
	return &Message{MsgType: MsgTVIncr, Key: key, Delta: delta}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// messageTypeNames maps every message type to its name on the wire (json)
var messageTypeNames = map[MessageType]string{
	MsgTUnknown:   "unknown",
	MsgTSuccess:   "success",
	MsgTError:     "error",
	MsgTPGet:      "get",
	MsgTPGetMulti: "getMulti",
	MsgTPScan:     "scan",
	MsgTPSet:      "set",
	MsgTPDelete:   "delete",
	MsgTPApply:    "apply",
	MsgTPInfo:     "info",
	MsgTVGet:      "cacheGet",
	MsgTVSet:      "cacheSet",
	MsgTVAdd:      "cacheAdd",
	MsgTVDelete:   "cacheDelete",
	MsgTVIncr:     "cacheIncr",
	MsgTVInfo:     "cacheInfo",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsPersistent reports whether the message is an operation of a persistent store
func (t MessageType) IsPersistent() bool {
	return t >= MsgTPGet && t <= MsgTPInfo
}

// IsVolatile reports whether the message is an operation of a volatile store
func (t MessageType) IsVolatile() bool {
	return t >= MsgTVGet && t <= MsgTVInfo
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for msgType, name := range messageTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IPersistentStore operations

	MsgTPGet      // Get a value by key
	MsgTPGetMulti // Get the values of several keys, fails on the first missing key
	MsgTPScan     // Read one page of a prefix range
	MsgTPSet      // Set a key-value pair
	MsgTPDelete   // Delete a key-value pair
	MsgTPApply    // Apply a transaction atomically
	MsgTPInfo     // Database info of the shard

	// IVolatileStore operations

	MsgTVGet    // Get a cached value
	MsgTVSet    // Set a cached value with ttl
	MsgTVAdd    // Set a cached value if missing
	MsgTVDelete // Delete a cached value
	MsgTVIncr   // Increment a counter
	MsgTVInfo   // Database info of the shard
)
