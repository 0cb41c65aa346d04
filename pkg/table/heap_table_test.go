package table

import (
	"path/filepath"
	"testing"

	"github.com/mnohosten/laura-db/pkg/storage"
	"github.com/mnohosten/laura-db/pkg/tuple"
)

func newTestPool(t *testing.T, capacity int) *storage.BufferPool {
	t.Helper()
	dir := t.TempDir()
	dm, err := storage.NewDiskManager(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDiskManager() error = %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	return storage.NewBufferPool(capacity, dm)
}

func TestTableChainsToNewPageWhenFull(t *testing.T) {
	pool := newTestPool(t, 8)
	schema, err := tuple.NewSchema([]string{"a"}, []tuple.Kind{tuple.KindU128})
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}

	tbl, err := NewTable(schema, pool, nil)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	firstID := tbl.FirstPageID()

	rows := 0
	for tbl.LastPageID() == firstID {
		_, err := tbl.Insert([]*tuple.Value{tuple.NewValue(tuple.KindU128, tuple.U128{Lo: uint64(rows)})}, nil)
		if err != nil {
			t.Fatalf("Insert() error at row %d: %v", rows, err)
		}
		rows++
		if rows > 1000 {
			t.Fatalf("table never chained to a second page after %d rows", rows)
		}
	}

	if tbl.LastPageID() == firstID {
		t.Fatalf("expected a second page to appear")
	}

	pinCount, ok := pool.GetPinCount(firstID)
	if !ok {
		t.Fatalf("first page %d no longer resident", firstID)
	}
	if pinCount != 1 {
		t.Errorf("first page pin count = %d, want 1 (held by table handle)", pinCount)
	}
}

func TestTableStringExternalization(t *testing.T) {
	pool := newTestPool(t, 8)
	schema, err := tuple.NewSchema(
		[]string{"a", "s", "b"},
		[]tuple.Kind{tuple.KindU8, tuple.KindStr, tuple.KindU8},
	)
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}

	tbl, err := NewTable(schema, pool, nil)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	defer tbl.Close()

	want := "Hello, World!"
	_, err = tbl.Insert([]*tuple.Value{
		tuple.NewValue(tuple.KindU8, uint8(100)),
		tuple.NewValue(tuple.KindStr, want),
		tuple.NewValue(tuple.KindU8, uint8(50)),
	}, nil)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	var got string
	count := 0
	err = tbl.Scan(nil, func(_ storage.TupleID, values []*tuple.Value) error {
		count++
		got = values[1].Data.(string)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("Scan() visited %d rows, want 1", count)
	}
	if got != want {
		t.Errorf("resolved string = %q, want %q", got, want)
	}
}

func TestTableDeleteIsSkippedByScan(t *testing.T) {
	pool := newTestPool(t, 8)
	schema, err := tuple.NewSchema([]string{"a"}, []tuple.Kind{tuple.KindU32})
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}

	tbl, err := NewTable(schema, pool, nil)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	defer tbl.Close()

	var ids []storage.TupleID
	for i := uint32(0); i < 3; i++ {
		id, err := tbl.Insert([]*tuple.Value{tuple.NewValue(tuple.KindU32, i)}, nil)
		if err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		ids = append(ids, id)
	}

	if err := tbl.Delete(ids[1], nil); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var seen []uint32
	err = tbl.Scan(nil, func(_ storage.TupleID, values []*tuple.Value) error {
		seen = append(seen, values[0].Data.(uint32))
		return nil
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(seen) != 2 || seen[0] != 0 || seen[1] != 2 {
		t.Errorf("Scan() after delete = %v, want [0 2]", seen)
	}
}
