package index

import (
	"fmt"

	"github.com/mnohosten/laura-db/pkg/storage"
)

// Iterator walks the tree's leaf chain in ascending key order, holding
// exactly one leaf pinned at a time. A non-transactional iterator also
// holds the pinned leaf's shared latch, so a concurrent commit cannot
// swap the frame out from under a read in progress.
type Iterator struct {
	tree   *BPlusTree
	txnID  *storage.TxnID
	pageID storage.PageID
	latch  *storage.Latch
	next   storage.PageID
	keys   []uint32
	values []storage.BTreeValue
	idx    int
	done   bool
}

// NewIterator descends to the leftmost leaf and returns an iterator
// positioned at the first key in the tree, if any.
func (t *BPlusTree) NewIterator(txnID *storage.TxnID) (*Iterator, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pageID := t.rootPageID
	for {
		if err := t.touch(pageID, txnID); err != nil {
			return nil, err
		}
		latch := t.readLatch(pageID, txnID)
		frame, err := t.bufferPool.FetchFrame(pageID, txnID)
		if err != nil {
			if latch != nil {
				latch.RUnlock()
			}
			return nil, fmt.Errorf("index: iterator: fetch page %d: %w", pageID, err)
		}
		bp := storage.LoadBTreePage(frame.Page())

		if bp.PageType() == storage.BTreePageLeaf {
			return &Iterator{
				tree:   t,
				txnID:  txnID,
				pageID: pageID,
				latch:  latch,
				next:   bp.Next(),
				keys:   bp.Keys(),
				values: bp.Values(),
			}, nil
		}

		childID := storage.DecodeInnerValue(bp.Values()[0])
		err = t.bufferPool.Unpin(pageID, txnID)
		if latch != nil {
			latch.RUnlock()
		}
		if err != nil {
			return nil, err
		}
		pageID = childID
	}
}

func (it *Iterator) releaseLatch() {
	if it.latch != nil {
		it.latch.RUnlock()
		it.latch = nil
	}
}

func (it *Iterator) loadLeaf(pageID storage.PageID) error {
	if err := it.tree.touch(pageID, it.txnID); err != nil {
		return err
	}
	it.latch = it.tree.readLatch(pageID, it.txnID)
	frame, err := it.tree.bufferPool.FetchFrame(pageID, it.txnID)
	if err != nil {
		it.releaseLatch()
		return fmt.Errorf("index: iterator: fetch leaf %d: %w", pageID, err)
	}
	bp := storage.LoadBTreePage(frame.Page())
	it.pageID = pageID
	it.next = bp.Next()
	it.keys = bp.Keys()
	it.values = bp.Values()
	it.idx = 0
	return nil
}

// Next returns the next (key, pageID, slot) triple in ascending key
// order. ok is false once the chain is exhausted.
func (it *Iterator) Next() (key uint32, pageID storage.PageID, slot storage.SlotID, ok bool, err error) {
	for {
		if it.done {
			return 0, storage.InvalidPageID, 0, false, nil
		}

		if it.idx < len(it.keys) {
			key = it.keys[it.idx]
			pid, s := storage.DecodeLeafValue(it.values[it.idx])
			it.idx++
			return key, pid, s, true, nil
		}

		next := it.next
		err := it.tree.bufferPool.Unpin(it.pageID, it.txnID)
		it.releaseLatch()
		if err != nil {
			return 0, storage.InvalidPageID, 0, false, err
		}

		if next == storage.InvalidPageID {
			it.done = true
			return 0, storage.InvalidPageID, 0, false, nil
		}
		if err := it.loadLeaf(next); err != nil {
			return 0, storage.InvalidPageID, 0, false, err
		}
	}
}

// Close releases the currently pinned leaf, if iteration stopped before
// reaching the end of the chain.
func (it *Iterator) Close() error {
	if it.done {
		return nil
	}
	it.done = true
	err := it.tree.bufferPool.Unpin(it.pageID, it.txnID)
	it.releaseLatch()
	return err
}
