// Package serializer encodes the common.Message values exchanged between dORM clients
// and a store server. One message is one store call addressed to a shard: a Get or
// GetMulti of object keys, a page of a prefix scan (prefix, after, limit, keys only),
// an asserted transaction of db.Ops, or a volatile Set/Add/Incr with its ttl.
// Responses reuse the same type and carry the store's RetCode so a NotFound or a
// failed assert survives the trip.
//
// Implementations:
//
//   - binarySerializerImpl (New("binary"), default): a type byte and a 16 bit flag
//     word of present fields, followed by those fields only. Strings, byte slices and
//     lists (keys, values, ops) are length prefixed, so a scan page of many small
//     reverse index keys stays compact.
//
//   - reflectSerializerImpl with JSON (New("json")): message types are written by
//     name, which makes captured traffic readable.
//
//   - reflectSerializerImpl with gob (New("gob")): mostly for comparison in the
//     benchmarks, its payloads are the largest.
//
// Serializers hold no state and can be shared between goroutines. Deserialize resets
// the target message first, it can be reused across requests.
//
//	s, err := serializer.New("binary")
//	data, err := s.Serialize(common.Message{MsgType: common.MsgTPGet, Key: key})
//	var resp common.Message
//	err = s.Deserialize(answer, &resp)
package serializer
