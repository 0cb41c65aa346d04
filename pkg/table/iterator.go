package table

import (
	"fmt"

	"github.com/mnohosten/laura-db/pkg/storage"
	"github.com/mnohosten/laura-db/pkg/tuple"
)

// Iterator walks a table's page chain from first to last, holding
// exactly one page pinned at a time. Advancing past the end of a page
// unpins it before fetching the next. A non-transactional iterator
// also holds the pinned page's shared latch, so a concurrent commit
// cannot swap the frame out from under a read in progress.
type Iterator struct {
	table  *Table
	txnID  *storage.TxnID
	pageID storage.PageID
	page   *storage.HeapPage
	latch  *storage.Latch
	slot   uint16
}

// NewIterator starts a scan at the table's first page.
func (t *Table) NewIterator(txnID *storage.TxnID) (*Iterator, error) {
	it := &Iterator{table: t, txnID: txnID, pageID: t.firstPageID}
	if err := it.loadPage(); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *Iterator) loadPage() error {
	if err := it.table.touch(it.pageID, it.txnID); err != nil {
		return err
	}
	it.latch = it.table.readLatch(it.pageID, it.txnID)
	frame, err := it.table.bufferPool.FetchFrame(it.pageID, it.txnID)
	if err != nil {
		it.releaseLatch()
		return fmt.Errorf("table: iterator: fetch page %d: %w", it.pageID, err)
	}
	it.page = storage.LoadHeapPage(frame.Page())
	it.slot = 0
	return nil
}

func (it *Iterator) releaseLatch() {
	if it.latch != nil {
		it.latch.RUnlock()
		it.latch = nil
	}
}

// Next returns the next live tuple in the chain. ok is false once every
// page has been exhausted; a false/nil/nil return with a nil error is
// the normal end of iteration, not an error.
func (it *Iterator) Next() (tupleID storage.TupleID, values []*tuple.Value, ok bool, err error) {
	for {
		if it.page == nil {
			return storage.TupleID{}, nil, false, nil
		}

		for it.slot < it.page.NumTuples() {
			slot := storage.SlotID(it.slot)
			it.slot++

			raw, meta, got := it.page.GetTuple(slot)
			if !got || meta.IsDeleted {
				continue
			}

			resolve := func(tid storage.TupleID) (string, error) {
				return it.table.resolveString(tid, it.txnID)
			}
			values, err := it.table.schema.Decode(raw, meta, resolve)
			if err != nil {
				return storage.TupleID{}, nil, false, fmt.Errorf("table: iterator: decode tuple: %w", err)
			}
			return storage.TupleID{PageID: it.pageID, Slot: slot}, values, true, nil
		}

		next := it.page.NextPageID()
		if err := it.table.bufferPool.Unpin(it.pageID, it.txnID); err != nil {
			it.releaseLatch()
			return storage.TupleID{}, nil, false, fmt.Errorf("table: iterator: unpin page %d: %w", it.pageID, err)
		}
		it.releaseLatch()
		it.page = nil
		if next == storage.InvalidPageID {
			return storage.TupleID{}, nil, false, nil
		}
		it.pageID = next
		if err := it.loadPage(); err != nil {
			return storage.TupleID{}, nil, false, err
		}
	}
}

// Close releases the currently pinned page, if iteration stopped
// before reaching the end of the chain.
func (it *Iterator) Close() error {
	if it.page == nil {
		return nil
	}
	it.page = nil
	err := it.table.bufferPool.Unpin(it.pageID, it.txnID)
	it.releaseLatch()
	return err
}
