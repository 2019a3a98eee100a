package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dORM/lib/db"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTApply CommandType = iota // Apply a batch of operations atomically.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTApply:
		return "Apply"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// Command represents a command to be executed by the state machine (a single entry in the raft log).
// Single writes are batches with one operation, so every raft entry is applied atomically.
type Command struct {
	Type CommandType
	Ops  []db.Op
}

const (
	commandHeaderSize = 1 + 4     // Type + OpCount
	opHeaderSize      = 1 + 4 + 4 // OpType + KeyLen + ValueLen
)

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	size := commandHeaderSize
	for _, op := range command.Ops {
		size += opHeaderSize + len(op.Key) + len(op.Value)
	}
	return size
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for the command type,
// 4 bytes for the number of operations (big endian),
// and for each operation:
// 1 byte for the operation type,
// 4 bytes for key length, N bytes key data,
// 4 bytes for value length, M bytes value data
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint32(result[1:5], uint32(len(command.Ops)))

	pos := commandHeaderSize
	for _, op := range command.Ops {
		result[pos] = byte(op.Type)
		pos++

		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(op.Key)))
		pos += 4
		pos += copy(result[pos:], op.Key)

		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(op.Value)))
		pos += 4
		pos += copy(result[pos:], op.Value)
	}

	return result
}

// Deserialize extracts all Command fields from a byte array.
// The values of the operations are copies, the input buffer can be reused by the caller.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < commandHeaderSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	count := binary.BigEndian.Uint32(data[1:5])

	// every op needs at least its header, this guards the allocation below
	if uint64(count)*opHeaderSize > uint64(len(data)-commandHeaderSize) {
		return fmt.Errorf("data too short for %d operations", count)
	}

	command.Ops = make([]db.Op, count)
	pos := commandHeaderSize
	for i := range command.Ops {
		if len(data) < pos+opHeaderSize {
			return fmt.Errorf("data too short for operation %d", i)
		}
		opType := db.OpType(data[pos])
		pos++

		keyLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if len(data) < pos+keyLen+4 {
			return fmt.Errorf("data too short for key of length %d", keyLen)
		}
		key := string(data[pos : pos+keyLen])
		pos += keyLen

		valueLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if len(data) < pos+valueLen {
			return fmt.Errorf("data too short for value of length %d", valueLen)
		}
		var value []byte
		if opType == db.OpSet || opType == db.OpAssert {
			value = make([]byte, valueLen)
			copy(value, data[pos:pos+valueLen])
		}
		pos += valueLen

		command.Ops[i] = db.Op{Type: opType, Key: key, Value: value}
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after command", len(data)-pos)
	}
	return nil
}
