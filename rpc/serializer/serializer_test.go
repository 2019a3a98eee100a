package serializer

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/ValentinKolb/dORM/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Set request
		*common.NewSetRequest("ovs_data_disk_1", []byte(`{"name":"sda"}`)),

		// GetMulti request and response
		*common.NewGetMultiRequest([]string{"a", "b", "c"}),
		{
			MsgType: common.MsgTPGetMulti,
			Values:  [][]byte{[]byte("1"), []byte("2"), []byte("3")},
		},

		// Scan request and response
		*common.NewScanRequest("ovs_listcache_disk|", "ovs_listcache_disk|a", 256, true),
		{
			MsgType: common.MsgTPScan,
			Keys:    []string{"k1", "k2"},
			Values:  [][]byte{[]byte("v1"), []byte("v2")},
		},

		// Transaction with every op type
		*common.NewApplyRequest([]db.Op{
			{Type: db.OpAssert, Key: "ovs_data_disk_1", Value: []byte("old")},
			{Type: db.OpAssertAbsent, Key: "ovs_data_disk_2"},
			{Type: db.OpSet, Key: "ovs_data_disk_1", Value: []byte("new")},
			{Type: db.OpDelete, Key: "ovs_listcache_disk|x|name"},
		}),

		// Volatile requests
		*common.NewVolatileSetRequest("ovs_list_abc", []byte("[1,2]"), 300_000_000_000),
		*common.NewVolatileIncrRequest("ovs_stats_dynamic_disk_size_hit", -3),
		{MsgType: common.MsgTVAdd, Ok: true},

		// Error response with code and key
		{
			MsgType: common.MsgTPGet,
			Key:     "missing",
			Code:    store.RetCNotFound,
			Err:     "key not found",
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for msgType := common.MsgTSuccess; msgType <= common.MsgTVInfo; msgType++ {
				data, err := serializer.Serialize(common.Message{MsgType: msgType})
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType, err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s", msgType, result.MsgType)
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests edge cases of the binary format
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	t.Run("Empty value is kept", func(t *testing.T) {
		data, err := serializer.Serialize(common.Message{MsgType: common.MsgTPSet, Key: "k", Value: []byte{}})
		if err != nil {
			t.Fatal(err)
		}
		var result common.Message
		if err := serializer.Deserialize(data, &result); err != nil {
			t.Fatal(err)
		}
		if result.Value == nil || len(result.Value) != 0 {
			t.Errorf("expected empty non-nil value, got %#v", result.Value)
		}
	})

	t.Run("Delete ops drop values", func(t *testing.T) {
		msg := common.NewApplyRequest([]db.Op{{Type: db.OpDelete, Key: "k", Value: []byte("ignored")}})
		data, err := serializer.Serialize(*msg)
		if err != nil {
			t.Fatal(err)
		}
		var result common.Message
		if err := serializer.Deserialize(data, &result); err != nil {
			t.Fatal(err)
		}
		if len(result.Ops) != 1 || result.Ops[0].Value != nil || result.Ops[0].Key != "k" {
			t.Errorf("unexpected ops %+v", result.Ops)
		}
	})

	t.Run("Decoded values do not alias the input", func(t *testing.T) {
		data, err := serializer.Serialize(*common.NewSetRequest("k", []byte("value")))
		if err != nil {
			t.Fatal(err)
		}
		var result common.Message
		if err := serializer.Deserialize(data, &result); err != nil {
			t.Fatal(err)
		}
		for i := range data {
			data[i] = 0
		}
		if string(result.Value) != "value" || result.Key != "k" {
			t.Errorf("decoded message changed with its input: %+v", result)
		}
	})

	t.Run("Stale fields are reset", func(t *testing.T) {
		data, err := serializer.Serialize(common.Message{MsgType: common.MsgTSuccess})
		if err != nil {
			t.Fatal(err)
		}
		result := common.Message{Key: "old", Ok: true, Keys: []string{"x"}}
		if err := serializer.Deserialize(data, &result); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(result, common.Message{MsgType: common.MsgTSuccess}) {
			t.Errorf("expected a clean message, got %+v", result)
		}
	})
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0},
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0},
			expectError: false,
		},
		{
			name:        "Invalid length for key",
			data:        []byte{1, 0, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims key length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{1, 0, 2, 0, 0, 0, 10}, // Claims value length 10 but no bytes provided
			expectError: true,
		},
		{
			name:        "Huge key count",
			data:        []byte{1, 0, 4, 0xff, 0xff, 0xff, 0xff},
			expectError: true,
		},
		{
			name:        "Trailing bytes",
			data:        []byte{1, 0, 0, 42},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

func TestDeserializeIntoReusedMessage(t *testing.T) {
	scanResp := common.Message{
		MsgType: common.MsgTPScan,
		Keys:    []string{"k1", "k2"},
		Values:  [][]byte{[]byte("v1"), []byte("v2")},
		Code:    store.RetCNotFound,
		Err:     "not found",
	}
	getResp := common.Message{MsgType: common.MsgTPGet, Value: []byte("v")}

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			first, err := s.Serialize(scanResp)
			if err != nil {
				t.Fatalf("Serialize failed: %v", err)
			}
			second, err := s.Serialize(getResp)
			if err != nil {
				t.Fatalf("Serialize failed: %v", err)
			}

			var msg common.Message
			if err := s.Deserialize(first, &msg); err != nil {
				t.Fatalf("Deserialize failed: %v", err)
			}
			if err := s.Deserialize(second, &msg); err != nil {
				t.Fatalf("Deserialize failed: %v", err)
			}
			if len(msg.Keys) != 0 || len(msg.Values) != 0 || msg.Code != 0 || msg.Err != "" {
				t.Errorf("fields of the previous message survived: %+v", msg)
			}
			if msg.MsgType != common.MsgTPGet || string(msg.Value) != "v" {
				t.Errorf("unexpected message: %+v", msg)
			}
		})
	}
}
