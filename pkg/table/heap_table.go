// Package table implements heap-table storage: a chain of slotted pages
// holding fixed-size tuples, with string columns externalized to a
// parallel chain of blob pages.
package table

import (
	"fmt"
	"sync"

	"github.com/mnohosten/laura-db/pkg/compression"
	"github.com/mnohosten/laura-db/pkg/storage"
	"github.com/mnohosten/laura-db/pkg/tuple"
	"github.com/mnohosten/laura-db/pkg/txn"
)

// Config controls optional table behavior.
type Config struct {
	// Compressor, if non-nil, compresses blob payloads (string columns)
	// before they are chained into the blob page chain.
	Compressor *compression.BlobCompressor

	// TxnManager, if non-nil, is consulted before every page fetch made
	// on behalf of a non-nil *storage.TxnID, so the page is shadowed
	// under that transaction instead of touched directly.
	TxnManager *txn.Manager
}

// Table owns a chain of heap pages rooted at firstPageID, a blob chain
// for externalized strings, and the schema describing the fixed-size
// shape of each row. Every table-owned page (firstPageID, the current
// lastPageID, and the current blobPageID) is kept at a baseline pin
// count of one for as long as the table is open; Insert/Scan
// temporarily bump that to two and back while they hold the page.
type Table struct {
	mu         sync.Mutex
	schema     *tuple.Schema
	bufferPool *storage.BufferPool
	compressor *compression.BlobCompressor
	txnManager *txn.Manager

	firstPageID storage.PageID
	lastPageID  storage.PageID
	blobPageID  storage.PageID
}

// readLatch takes the page's shared latch for a non-transactional
// read, returning it for the caller to RUnlock. Transactional reads
// return nil: the transaction already holds the page's
// upgradable-shared latch from its first touch, which keeps a
// concurrent commit (the only exclusive holder) off the page.
func (t *Table) readLatch(pageID storage.PageID, txnID *storage.TxnID) *storage.Latch {
	if txnID != nil {
		return nil
	}
	l := t.bufferPool.Latch(pageID)
	l.RLock()
	return l
}

// touch enlists pageID under txnID's transaction, if the table was
// configured with a txn.Manager, so the subsequent FetchFrame sees (and
// creates, on first touch) that transaction's shadow rather than the
// base page.
func (t *Table) touch(pageID storage.PageID, txnID *storage.TxnID) error {
	if t.txnManager == nil || txnID == nil {
		return nil
	}
	if err := t.txnManager.TouchPage(*txnID, pageID); err != nil {
		return fmt.Errorf("table: touch page %d: %w", pageID, err)
	}
	return nil
}

// NewTable allocates a fresh first page and a fresh blob page and
// returns a table ready to accept rows of the given schema.
func NewTable(schema *tuple.Schema, bufferPool *storage.BufferPool, cfg *Config) (*Table, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	firstFrame, err := bufferPool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("table: allocate first page: %w", err)
	}
	storage.NewHeapPage(firstFrame.Page())
	firstID := firstFrame.Page().ID

	blobFrame, err := bufferPool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("table: allocate blob page: %w", err)
	}
	storage.NewBlobPage(blobFrame.Page())
	blobID := blobFrame.Page().ID

	return &Table{
		schema:      schema,
		bufferPool:  bufferPool,
		compressor:  cfg.Compressor,
		txnManager:  cfg.TxnManager,
		firstPageID: firstID,
		lastPageID:  firstID,
		blobPageID:  blobID,
	}, nil
}

// LoadTable resumes a table whose first page already exists on disk
// (the catalog's fixed root page, notably). It walks the next_page_id
// chain to find the current last page and allocates a fresh blob page;
// previously written blobs stay readable through their stored
// tuple-ids, new ones land on the new chain.
func LoadTable(schema *tuple.Schema, bufferPool *storage.BufferPool, firstPageID storage.PageID, cfg *Config) (*Table, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	lastID, err := walkToLastPage(bufferPool, firstPageID)
	if err != nil {
		return nil, fmt.Errorf("table: load chain from page %d: %w", firstPageID, err)
	}

	if _, err := bufferPool.FetchFrame(firstPageID, nil); err != nil {
		return nil, fmt.Errorf("table: pin first page %d: %w", firstPageID, err)
	}
	if lastID != firstPageID {
		if _, err := bufferPool.FetchFrame(lastID, nil); err != nil {
			_ = bufferPool.Unpin(firstPageID, nil)
			return nil, fmt.Errorf("table: pin last page %d: %w", lastID, err)
		}
	}

	blobFrame, err := bufferPool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("table: allocate blob page: %w", err)
	}
	storage.NewBlobPage(blobFrame.Page())

	return &Table{
		schema:      schema,
		bufferPool:  bufferPool,
		compressor:  cfg.Compressor,
		txnManager:  cfg.TxnManager,
		firstPageID: firstPageID,
		lastPageID:  lastID,
		blobPageID:  blobFrame.Page().ID,
	}, nil
}

func walkToLastPage(bufferPool *storage.BufferPool, firstPageID storage.PageID) (storage.PageID, error) {
	id := firstPageID
	for {
		latch := bufferPool.Latch(id)
		latch.RLock()
		frame, err := bufferPool.FetchFrame(id, nil)
		if err != nil {
			latch.RUnlock()
			return storage.InvalidPageID, err
		}
		next := storage.LoadHeapPage(frame.Page()).NextPageID()
		err = bufferPool.Unpin(id, nil)
		latch.RUnlock()
		if err != nil {
			return storage.InvalidPageID, err
		}
		if next == storage.InvalidPageID {
			return id, nil
		}
		id = next
	}
}

// FirstPageID returns the root page of the table's tuple chain.
func (t *Table) FirstPageID() storage.PageID {
	return t.firstPageID
}

// LastPageID returns the current tail page of the table's tuple chain.
func (t *Table) LastPageID() storage.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPageID
}

// BlobPageID returns the current tail page of the table's blob chain.
func (t *Table) BlobPageID() storage.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blobPageID
}

// Schema returns the table's row schema.
func (t *Table) Schema() *tuple.Schema {
	return t.schema
}

// Insert encodes values under the table's schema and appends the row
// to the last page in the chain, allocating and linking a new page if
// the current one is full. String-typed columns are externalized to
// the blob chain first; the inline tuple stores their tuple-id instead
// of the bytes. If txnID is non-nil, every page this touches is
// fetched and unpinned through that transaction's shadow.
func (t *Table) Insert(values []*tuple.Value, txnID *storage.TxnID) (storage.TupleID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	externalize := func(s string) (storage.TupleID, error) {
		return t.insertString(s, txnID)
	}
	raw, meta, err := t.schema.Encode(values, externalize)
	if err != nil {
		return storage.TupleID{}, fmt.Errorf("table: encode row: %w", err)
	}

	for {
		if err := t.touch(t.lastPageID, txnID); err != nil {
			return storage.TupleID{}, err
		}
		frame, err := t.bufferPool.FetchFrame(t.lastPageID, txnID)
		if err != nil {
			return storage.TupleID{}, fmt.Errorf("table: fetch last page %d: %w", t.lastPageID, err)
		}
		hp := storage.LoadHeapPage(frame.Page())

		if slot, ok := hp.InsertTuple(raw, meta); ok {
			tid := storage.TupleID{PageID: t.lastPageID, Slot: slot}
			if err := t.bufferPool.Unpin(t.lastPageID, txnID); err != nil {
				return storage.TupleID{}, fmt.Errorf("table: unpin last page %d: %w", t.lastPageID, err)
			}
			return tid, nil
		}

		if err := t.chainNewLastPage(hp, txnID); err != nil {
			return storage.TupleID{}, err
		}
	}
}

// chainNewLastPage allocates a new page, links it after the current
// (full) last page, unpins the old last page's fetched reference, and
// advances lastPageID. The caller must hold hp's pin from a prior
// FetchFrame(t.lastPageID, txnID).
func (t *Table) chainNewLastPage(hp *storage.HeapPage, txnID *storage.TxnID) error {
	newFrame, err := t.bufferPool.NewPage()
	if err != nil {
		_ = t.bufferPool.Unpin(hp.Page().ID, txnID)
		return fmt.Errorf("table: allocate next page: %w", err)
	}
	storage.NewHeapPage(newFrame.Page())
	newID := newFrame.Page().ID

	hp.SetNextPageID(newID)
	oldID := hp.Page().ID
	if err := t.bufferPool.Unpin(oldID, txnID); err != nil {
		return fmt.Errorf("table: unpin chained page %d: %w", oldID, err)
	}
	t.lastPageID = newID
	return nil
}

// Delete marks the tuple at tupleID as deleted; space is not reclaimed.
func (t *Table) Delete(tupleID storage.TupleID, txnID *storage.TxnID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.touch(tupleID.PageID, txnID); err != nil {
		return err
	}
	frame, err := t.bufferPool.FetchFrame(tupleID.PageID, txnID)
	if err != nil {
		return fmt.Errorf("table: fetch page %d: %w", tupleID.PageID, err)
	}
	hp := storage.LoadHeapPage(frame.Page())
	delErr := hp.DeleteTuple(tupleID.Slot)
	if err := t.bufferPool.Unpin(tupleID.PageID, txnID); err != nil {
		return fmt.Errorf("table: unpin page %d: %w", tupleID.PageID, err)
	}
	if delErr != nil {
		return fmt.Errorf("table: delete tuple %+v: %w", tupleID, delErr)
	}
	return nil
}

// Scan visits every live tuple from firstPageID to the end of the
// chain, holding exactly one page pinned at a time.
func (t *Table) Scan(txnID *storage.TxnID, visit func(storage.TupleID, []*tuple.Value) error) error {
	it, err := t.NewIterator(txnID)
	if err != nil {
		return err
	}
	defer it.Close()

	for {
		tupleID, values, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := visit(tupleID, values); err != nil {
			return err
		}
	}
}

// Close releases the baseline pin each of the table's currently live
// pages (first, last, blob) has held since it was allocated.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[storage.PageID]bool, 3)
	for _, id := range []storage.PageID{t.firstPageID, t.lastPageID, t.blobPageID} {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := t.bufferPool.Unpin(id, nil); err != nil {
			return fmt.Errorf("table: close: unpin page %d: %w", id, err)
		}
	}
	return nil
}

// insertString externalizes s to the blob chain, compressing it first
// if a compressor is configured, and returns the tuple-id under which
// it was stored.
func (t *Table) insertString(s string, txnID *storage.TxnID) (storage.TupleID, error) {
	raw := []byte(s)
	if t.compressor != nil {
		compressed, err := t.compressor.CompressPayload(raw)
		if err != nil {
			return storage.TupleID{}, fmt.Errorf("table: compress blob payload: %w", err)
		}
		raw = compressed
	}

	for {
		if err := t.touch(t.blobPageID, txnID); err != nil {
			return storage.TupleID{}, err
		}
		frame, err := t.bufferPool.FetchFrame(t.blobPageID, txnID)
		if err != nil {
			return storage.TupleID{}, fmt.Errorf("table: fetch blob page %d: %w", t.blobPageID, err)
		}
		hp := storage.LoadBlobPage(frame.Page())

		if slot, ok := hp.InsertTuple(raw, storage.TupleMetaData{}); ok {
			tid := storage.TupleID{PageID: t.blobPageID, Slot: slot}
			if err := t.bufferPool.Unpin(t.blobPageID, txnID); err != nil {
				return storage.TupleID{}, fmt.Errorf("table: unpin blob page %d: %w", t.blobPageID, err)
			}
			return tid, nil
		}

		newFrame, err := t.bufferPool.NewPage()
		if err != nil {
			_ = t.bufferPool.Unpin(t.blobPageID, txnID)
			return storage.TupleID{}, fmt.Errorf("table: allocate next blob page: %w", err)
		}
		storage.NewBlobPage(newFrame.Page())
		newID := newFrame.Page().ID

		hp.SetNextPageID(newID)
		oldID := t.blobPageID
		if err := t.bufferPool.Unpin(oldID, txnID); err != nil {
			return storage.TupleID{}, fmt.Errorf("table: unpin chained blob page %d: %w", oldID, err)
		}
		t.blobPageID = newID
	}
}

// resolveString reads back a string previously externalized to tupleID.
func (t *Table) resolveString(tupleID storage.TupleID, txnID *storage.TxnID) (string, error) {
	if err := t.touch(tupleID.PageID, txnID); err != nil {
		return "", err
	}
	latch := t.readLatch(tupleID.PageID, txnID)
	frame, err := t.bufferPool.FetchFrame(tupleID.PageID, txnID)
	if err != nil {
		if latch != nil {
			latch.RUnlock()
		}
		return "", fmt.Errorf("table: fetch blob page %d: %w", tupleID.PageID, err)
	}
	hp := storage.LoadBlobPage(frame.Page())
	raw, meta, ok := hp.GetTuple(tupleID.Slot)
	err = t.bufferPool.Unpin(tupleID.PageID, txnID)
	if latch != nil {
		latch.RUnlock()
	}
	if err != nil {
		return "", fmt.Errorf("table: unpin blob page %d: %w", tupleID.PageID, err)
	}
	if !ok || meta.IsDeleted {
		return "", fmt.Errorf("table: resolve blob tuple %+v: %w", tupleID, ErrTupleNotFound)
	}

	if t.compressor != nil {
		raw, err = t.compressor.DecompressPayload(raw)
		if err != nil {
			return "", fmt.Errorf("table: decompress blob payload: %w", err)
		}
	}
	return string(raw), nil
}
