package tuple

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mnohosten/laura-db/pkg/storage"
)

// tupleIDSize is the encoded size of a storage.TupleID: 4-byte PageID +
// 2-byte SlotID.
const tupleIDSize = 6

// Value is a typed column value: a kind tag plus an untyped payload,
// covering the fixed primitive kinds a tuple schema supports.
type Value struct {
	Kind Kind
	Data interface{}
}

// ExternalizeFunc inserts a string payload into a blob chain and returns
// the tuple-id to store inline in its place.
type ExternalizeFunc func(s string) (storage.TupleID, error)

// ResolveFunc reads back a string payload previously externalized to
// tupleID.
type ResolveFunc func(tupleID storage.TupleID) (string, error)

// NewValue wraps data with kind, doing no conversion.
func NewValue(kind Kind, data interface{}) *Value {
	return &Value{Kind: kind, Data: data}
}

// Bytes encodes the value to its fixed-size on-disk representation. A
// KindStr value's Data must already be a storage.TupleID (the caller
// externalizes before constructing the Value); Bytes does not itself
// write to a blob chain, since it has no buffer pool access.
func (v *Value) Bytes() ([]byte, error) {
	buf := make([]byte, v.Kind.Size())
	switch v.Kind {
	case KindU8:
		buf[0] = v.Data.(uint8)
	case KindI8:
		buf[0] = byte(v.Data.(int8))
	case KindBool:
		if v.Data.(bool) {
			buf[0] = 1
		}
	case KindChar:
		buf[0] = byte(v.Data.(rune))
	case KindU16:
		binary.LittleEndian.PutUint16(buf, v.Data.(uint16))
	case KindI16:
		binary.LittleEndian.PutUint16(buf, uint16(v.Data.(int16)))
	case KindU32:
		binary.LittleEndian.PutUint32(buf, v.Data.(uint32))
	case KindI32:
		binary.LittleEndian.PutUint32(buf, uint32(v.Data.(int32)))
	case KindF32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v.Data.(float32)))
	case KindU64:
		binary.LittleEndian.PutUint64(buf, v.Data.(uint64))
	case KindI64:
		binary.LittleEndian.PutUint64(buf, uint64(v.Data.(int64)))
	case KindF64:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.Data.(float64)))
	case KindU128:
		u := v.Data.(U128)
		binary.LittleEndian.PutUint64(buf[0:8], u.Lo)
		binary.LittleEndian.PutUint64(buf[8:16], u.Hi)
	case KindI128:
		i := v.Data.(I128)
		binary.LittleEndian.PutUint64(buf[0:8], i.Lo)
		binary.LittleEndian.PutUint64(buf[8:16], uint64(i.Hi))
	case KindStr:
		tid := v.Data.(storage.TupleID)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(tid.PageID))
		binary.LittleEndian.PutUint16(buf[4:6], uint16(tid.Slot))
	default:
		return nil, fmt.Errorf("tuple: encode: unsupported kind %v", v.Kind)
	}
	return buf, nil
}

// ValueFromBytes decodes a fixed-size field of the given kind.
func ValueFromBytes(kind Kind, data []byte) (*Value, error) {
	if len(data) != kind.Size() {
		return nil, fmt.Errorf("tuple: decode %v: expected %d bytes, got %d", kind, kind.Size(), len(data))
	}
	switch kind {
	case KindU8:
		return NewValue(kind, data[0]), nil
	case KindI8:
		return NewValue(kind, int8(data[0])), nil
	case KindBool:
		return NewValue(kind, data[0] != 0), nil
	case KindChar:
		return NewValue(kind, rune(data[0])), nil
	case KindU16:
		return NewValue(kind, binary.LittleEndian.Uint16(data)), nil
	case KindI16:
		return NewValue(kind, int16(binary.LittleEndian.Uint16(data))), nil
	case KindU32:
		return NewValue(kind, binary.LittleEndian.Uint32(data)), nil
	case KindI32:
		return NewValue(kind, int32(binary.LittleEndian.Uint32(data))), nil
	case KindF32:
		return NewValue(kind, math.Float32frombits(binary.LittleEndian.Uint32(data))), nil
	case KindU64:
		return NewValue(kind, binary.LittleEndian.Uint64(data)), nil
	case KindI64:
		return NewValue(kind, int64(binary.LittleEndian.Uint64(data))), nil
	case KindF64:
		return NewValue(kind, math.Float64frombits(binary.LittleEndian.Uint64(data))), nil
	case KindU128:
		return NewValue(kind, U128{
			Lo: binary.LittleEndian.Uint64(data[0:8]),
			Hi: binary.LittleEndian.Uint64(data[8:16]),
		}), nil
	case KindI128:
		return NewValue(kind, I128{
			Lo: binary.LittleEndian.Uint64(data[0:8]),
			Hi: int64(binary.LittleEndian.Uint64(data[8:16])),
		}), nil
	case KindStr:
		return NewValue(kind, storage.TupleID{
			PageID: storage.PageID(binary.LittleEndian.Uint32(data[0:4])),
			Slot:   storage.SlotID(binary.LittleEndian.Uint16(data[4:6])),
		}), nil
	default:
		return nil, fmt.Errorf("tuple: decode: unsupported kind %v", kind)
	}
}
