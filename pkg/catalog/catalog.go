// Package catalog tracks user tables by name. The catalog is itself a
// heap table rooted at the disk manager's fixed catalog root page, the
// same storage every other table uses.
package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mnohosten/laura-db/pkg/storage"
	"github.com/mnohosten/laura-db/pkg/table"
	"github.com/mnohosten/laura-db/pkg/tuple"
)

// catalogSchema describes one row of the catalog table itself: a table's
// name, the root page of its tuple chain, and its schema serialized as
// two comma-joined strings (field names, field kinds) since the catalog
// row format must stay fixed-size while schemas vary in width.
var catalogSchema = mustSchema()

func mustSchema() *tuple.Schema {
	s, err := tuple.NewSchema(
		[]string{"name", "first_page_id", "field_names", "field_kinds"},
		[]tuple.Kind{tuple.KindStr, tuple.KindU32, tuple.KindStr, tuple.KindStr},
	)
	if err != nil {
		panic(fmt.Sprintf("catalog: build catalog schema: %v", err))
	}
	return s
}

// Catalog resolves table names to table.Table handles, backed by a heap
// table rooted at storage.CatalogRootPageID.
type Catalog struct {
	bufferPool *storage.BufferPool
	cfg        *table.Config
	catalog    *table.Table
}

// Open loads the catalog table from its fixed root page. The disk
// manager bootstraps an empty heap page there on first file creation, so
// this always succeeds against a valid data file.
func Open(bufferPool *storage.BufferPool, cfg *table.Config) (*Catalog, error) {
	catTable, err := table.LoadTable(catalogSchema, bufferPool, storage.CatalogRootPageID, cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: load catalog table: %w", err)
	}
	return &Catalog{bufferPool: bufferPool, cfg: cfg, catalog: catTable}, nil
}

// CreateTable allocates a new heap table for schema, registers it under
// name, and returns the open handle.
func (c *Catalog) CreateTable(name string, schema *tuple.Schema) (*table.Table, error) {
	if _, err := c.findEntry(name); err == nil {
		return nil, fmt.Errorf("catalog: create table %q: %w", name, ErrTableExists)
	} else if err != ErrTableNotFound {
		return nil, err
	}

	tbl, err := table.NewTable(schema, c.bufferPool, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: create table %q: %w", name, err)
	}

	fieldKinds := make([]string, len(schema.Kinds))
	for i, k := range schema.Kinds {
		fieldKinds[i] = strconv.Itoa(int(k))
	}

	row := []*tuple.Value{
		tuple.NewValue(tuple.KindStr, name),
		tuple.NewValue(tuple.KindU32, uint32(tbl.FirstPageID())),
		tuple.NewValue(tuple.KindStr, strings.Join(schema.Fields, ",")),
		tuple.NewValue(tuple.KindStr, strings.Join(fieldKinds, ",")),
	}
	if _, err := c.catalog.Insert(row, nil); err != nil {
		return nil, fmt.Errorf("catalog: register table %q: %w", name, err)
	}
	return tbl, nil
}

// GetTable resolves name to an open table.Table handle, reconstructing
// its schema and resuming its page chain from the catalog's stored
// metadata.
func (c *Catalog) GetTable(name string) (*table.Table, error) {
	entry, err := c.findEntry(name)
	if err != nil {
		return nil, err
	}

	schema, err := decodeSchema(entry)
	if err != nil {
		return nil, fmt.Errorf("catalog: decode schema for table %q: %w", name, err)
	}

	tbl, err := table.LoadTable(schema, c.bufferPool, entry.firstPageID, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: load table %q: %w", name, err)
	}
	return tbl, nil
}

// catalogEntry is the decoded form of one catalog row.
type catalogEntry struct {
	name        string
	firstPageID storage.PageID
	fieldNames  string
	fieldKinds  string
}

func (c *Catalog) findEntry(name string) (*catalogEntry, error) {
	var found *catalogEntry
	err := c.catalog.Scan(nil, func(_ storage.TupleID, values []*tuple.Value) error {
		if found != nil {
			return nil
		}
		if values[0].Data.(string) != name {
			return nil
		}
		found = &catalogEntry{
			name:        name,
			firstPageID: storage.PageID(values[1].Data.(uint32)),
			fieldNames:  values[2].Data.(string),
			fieldKinds:  values[3].Data.(string),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: scan for table %q: %w", name, err)
	}
	if found == nil {
		return nil, ErrTableNotFound
	}
	return found, nil
}

func decodeSchema(entry *catalogEntry) (*tuple.Schema, error) {
	names := strings.Split(entry.fieldNames, ",")
	kindStrs := strings.Split(entry.fieldKinds, ",")
	if len(names) != len(kindStrs) {
		return nil, fmt.Errorf("catalog: mismatched field/kind counts (%d vs %d)", len(names), len(kindStrs))
	}

	kinds := make([]tuple.Kind, len(kindStrs))
	for i, ks := range kindStrs {
		n, err := strconv.Atoi(ks)
		if err != nil {
			return nil, fmt.Errorf("catalog: parse kind %q: %w", ks, err)
		}
		kinds[i] = tuple.Kind(n)
	}

	return tuple.NewSchema(names, kinds)
}
