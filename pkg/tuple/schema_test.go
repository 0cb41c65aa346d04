package tuple

import (
	"testing"

	"github.com/mnohosten/laura-db/pkg/storage"
)

func noExternalize(s string) (storage.TupleID, error) {
	panic("externalize should not be called: " + s)
}

func noResolve(id storage.TupleID) (string, error) {
	panic("resolve should not be called")
}

func TestSchemaEncodeDecodeRoundTrip(t *testing.T) {
	schema, err := NewSchema([]string{"a", "b"}, []Kind{KindU32, KindBool})
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}

	values := []*Value{
		NewValue(KindU32, uint32(42)),
		NewValue(KindBool, true),
	}

	encoded, meta, err := schema.Encode(values, noExternalize)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(encoded) != schema.RowSize() {
		t.Fatalf("Encode() len = %d, want %d", len(encoded), schema.RowSize())
	}

	decoded, err := schema.Decode(encoded, meta, noResolve)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if decoded[0].Data.(uint32) != 42 {
		t.Errorf("field a = %v, want 42", decoded[0].Data)
	}
	if decoded[1].Data.(bool) != true {
		t.Errorf("field b = %v, want true", decoded[1].Data)
	}
}

func TestSchemaU128RoundTrip(t *testing.T) {
	schema, err := NewSchema([]string{"id"}, []Kind{KindU128})
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}

	want := U128{Lo: 0xDEADBEEF, Hi: 7}
	encoded, meta, err := schema.Encode([]*Value{NewValue(KindU128, want)}, noExternalize)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(encoded) != 16 {
		t.Fatalf("Encode() len = %d, want 16", len(encoded))
	}

	decoded, err := schema.Decode(encoded, meta, noResolve)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	got := decoded[0].Data.(U128)
	if got != want {
		t.Errorf("U128 round trip = %+v, want %+v", got, want)
	}
}

func TestSchemaStringExternalization(t *testing.T) {
	schema, err := NewSchema([]string{"a", "s", "b"}, []Kind{KindU8, KindStr, KindU8})
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}

	blob := map[storage.TupleID]string{}
	nextID := storage.TupleID{PageID: 5, Slot: 0}
	externalize := func(s string) (storage.TupleID, error) {
		id := nextID
		blob[id] = s
		nextID.Slot++
		return id, nil
	}
	resolve := func(id storage.TupleID) (string, error) {
		return blob[id], nil
	}

	values := []*Value{
		NewValue(KindU8, uint8(1)),
		NewValue(KindStr, "Hello, World!"),
		NewValue(KindU8, uint8(2)),
	}

	encoded, meta, err := schema.Encode(values, externalize)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(encoded) != schema.RowSize() {
		t.Fatalf("Encode() len = %d, want %d", len(encoded), schema.RowSize())
	}

	decoded, err := schema.Decode(encoded, meta, resolve)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if decoded[1].Data.(string) != "Hello, World!" {
		t.Errorf("string field = %q, want %q", decoded[1].Data, "Hello, World!")
	}
	if decoded[0].Data.(uint8) != 1 || decoded[2].Data.(uint8) != 2 {
		t.Errorf("surrounding fields corrupted: %v, %v", decoded[0].Data, decoded[2].Data)
	}
}

func TestSchemaNullField(t *testing.T) {
	schema, err := NewSchema([]string{"a", "b"}, []Kind{KindU32, KindU32})
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}

	values := []*Value{
		NewValue(KindU32, uint32(1)),
		nil,
	}

	encoded, meta, err := schema.Encode(values, noExternalize)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := schema.Decode(encoded, meta, noResolve)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if decoded[1].Data != nil {
		t.Errorf("field b = %v, want nil", decoded[1].Data)
	}
}

func TestSchemaRejectsFieldKindMismatch(t *testing.T) {
	schema, err := NewSchema([]string{"a"}, []Kind{KindU32})
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}

	_, _, err = schema.Encode([]*Value{NewValue(KindU8, uint8(1))}, noExternalize)
	if err == nil {
		t.Error("Encode() expected error for kind mismatch")
	}
}

func TestNewSchemaRejectsFieldCountMismatch(t *testing.T) {
	_, err := NewSchema([]string{"a", "b"}, []Kind{KindU32})
	if err == nil {
		t.Error("NewSchema() expected error for mismatched field/kind counts")
	}
}
