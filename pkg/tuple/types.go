// Package tuple implements the fixed-schema value model stored in heap
// table rows: a small set of primitive column kinds plus a string kind
// that is externalized to a blob page chain rather than stored inline.
package tuple

import "fmt"

// Kind identifies a column's on-disk primitive type.
type Kind byte

const (
	KindU8 Kind = iota
	KindU16
	KindU32
	KindU64
	KindU128
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindF32
	KindF64
	KindBool
	KindChar
	// KindStr columns are stored inline as a 6-byte tuple-id pointing
	// into the table's blob page chain; the actual bytes never appear
	// in the main page.
	KindStr
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindU128:
		return "u128"
	case KindI8:
		return "i8"
	case KindI16:
		return "i16"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindI128:
		return "i128"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindBool:
		return "bool"
	case KindChar:
		return "char"
	case KindStr:
		return "str"
	default:
		return "unknown"
	}
}

// Size returns the fixed number of bytes a column of this kind occupies
// in the main tuple (for KindStr, the size of the tuple-id it stores,
// not the string payload).
func (k Kind) Size() int {
	switch k {
	case KindU8, KindI8, KindBool, KindChar:
		return 1
	case KindU16, KindI16:
		return 2
	case KindU32, KindI32, KindF32:
		return 4
	case KindU64, KindI64, KindF64:
		return 8
	case KindU128, KindI128:
		return 16
	case KindStr:
		return tupleIDSize
	default:
		panic(fmt.Sprintf("tuple: unknown kind %d", k))
	}
}

// U128 holds an unsigned 128-bit integer as two 64-bit halves, since Go
// has no native 128-bit integer type.
type U128 struct {
	Lo uint64
	Hi uint64
}

// I128 holds a signed 128-bit integer as two 64-bit halves; Hi carries
// the sign.
type I128 struct {
	Lo uint64
	Hi int64
}
