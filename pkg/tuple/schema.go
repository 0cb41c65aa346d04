package tuple

import (
	"fmt"

	"github.com/mnohosten/laura-db/pkg/storage"
)

// maxFields matches the null bitmap's width: storage.TupleMetaData packs
// one bit per column into a single u64.
const maxFields = 64

// Schema describes a fixed, ordered set of typed columns.
type Schema struct {
	Fields []string
	Kinds  []Kind
}

// NewSchema builds a Schema, matching fields to kinds positionally.
func NewSchema(fields []string, kinds []Kind) (*Schema, error) {
	if len(fields) != len(kinds) {
		return nil, fmt.Errorf("tuple: schema: %d fields but %d kinds", len(fields), len(kinds))
	}
	if len(fields) > maxFields {
		return nil, fmt.Errorf("tuple: schema: %d fields exceeds the %d-field null bitmap width", len(fields), maxFields)
	}
	return &Schema{Fields: fields, Kinds: kinds}, nil
}

// RowSize returns the fixed byte width of an encoded row under this
// schema (string columns count as their tuple-id width, not their
// payload length).
func (s *Schema) RowSize() int {
	total := 0
	for _, k := range s.Kinds {
		total += k.Size()
	}
	return total
}

// Encode serializes values in schema order into a fixed-size tuple byte
// string and the accompanying metadata. A nil entry in values marks that
// column null (the bit is set and size() zero bytes are still reserved
// for alignment). String-kind values carry a Go string in Data;
// externalize is invoked to turn it into a stored tuple-id before the
// fixed-size encoding runs.
func (s *Schema) Encode(values []*Value, externalize ExternalizeFunc) ([]byte, storage.TupleMetaData, error) {
	if len(values) != len(s.Kinds) {
		return nil, storage.TupleMetaData{}, fmt.Errorf("tuple: encode: %d values for %d-column schema", len(values), len(s.Kinds))
	}

	meta := storage.TupleMetaData{}
	buf := make([]byte, 0, s.RowSize())

	for i, kind := range s.Kinds {
		val := values[i]
		size := kind.Size()

		if val == nil || val.Data == nil {
			meta.NullBitmap |= 1 << uint(i)
			buf = append(buf, make([]byte, size)...)
			continue
		}

		if kind == KindStr {
			raw, ok := val.Data.(string)
			if !ok {
				return nil, meta, fmt.Errorf("tuple: encode: column %q expects a string, got %T", s.Fields[i], val.Data)
			}
			tupleID, err := externalize(raw)
			if err != nil {
				return nil, meta, fmt.Errorf("tuple: encode: externalize column %q: %w", s.Fields[i], err)
			}
			val = NewValue(KindStr, tupleID)
		}

		if val.Kind != kind {
			return nil, meta, fmt.Errorf("tuple: encode: column %q expects kind %v, got %v", s.Fields[i], kind, val.Kind)
		}

		encoded, err := val.Bytes()
		if err != nil {
			return nil, meta, fmt.Errorf("tuple: encode: column %q: %w", s.Fields[i], err)
		}
		buf = append(buf, encoded...)
	}

	return buf, meta, nil
}

// Decode is the inverse of Encode. For non-null string columns, resolve
// is invoked to fetch the blob payload the stored tuple-id points to;
// the returned Value carries the string directly in Data (not the
// tuple-id), mirroring how Encode accepts a raw string.
func (s *Schema) Decode(data []byte, meta storage.TupleMetaData, resolve ResolveFunc) ([]*Value, error) {
	if len(data) != s.RowSize() {
		return nil, fmt.Errorf("tuple: decode: expected %d bytes, got %d", s.RowSize(), len(data))
	}

	values := make([]*Value, len(s.Kinds))
	offset := 0
	for i, kind := range s.Kinds {
		size := kind.Size()
		field := data[offset : offset+size]
		offset += size

		if meta.NullBitmap&(1<<uint(i)) != 0 {
			values[i] = NewValue(kind, nil)
			continue
		}

		val, err := ValueFromBytes(kind, field)
		if err != nil {
			return nil, fmt.Errorf("tuple: decode: column %q: %w", s.Fields[i], err)
		}

		if kind == KindStr {
			tupleID := val.Data.(storage.TupleID)
			str, err := resolve(tupleID)
			if err != nil {
				return nil, fmt.Errorf("tuple: decode: resolve column %q: %w", s.Fields[i], err)
			}
			val = NewValue(KindStr, str)
		}

		values[i] = val
	}

	return values, nil
}
