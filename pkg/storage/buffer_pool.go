package storage

import (
	"fmt"
	"sync"
)

// TxnID identifies a transaction for the purposes of shadow-page
// bookkeeping. The transaction manager (pkg/txn) owns the concept of a
// transaction; the buffer pool only needs the id to key shadow frames.
type TxnID uint64

type shadowKey struct {
	PageID PageID
	TxnID  TxnID
}

// PageStore is the backing store a BufferPool reads pages from and
// writes them back to. *DiskManager is the plain implementation;
// pkg/encryption's EncryptedDiskManager satisfies the same shape so a
// buffer pool can sit transparently on top of page-level encryption.
type PageStore interface {
	ReadPage(pageID PageID) (*Page, error)
	WritePage(page *Page) error
	AllocateNextPageID() (PageID, error)
}

// BufferPool caches pages from a DiskManager in a fixed set of frames,
// pins them for callers, and evicts under an LRU policy. Its page
// table, free list, and replacer are protected by one coarse-grained
// mutex; disk I/O for fetches and flushes happens with that mutex
// held, so pool-lock scope is page-table lookup, frame allocation, and
// whatever I/O the state change requires.
type BufferPool struct {
	mu       sync.Mutex
	capacity int
	diskMgr  PageStore

	frames    []*frameSlot
	freeList  []FrameID
	pageTable map[PageID]FrameID
	shadows   map[shadowKey]FrameID
	replacer  *LRUReplacer
	latches   map[PageID]*Latch

	hits      int
	misses    int
	evictions int
}

// NewBufferPool creates a buffer pool with room for capacity resident
// frames, backed by diskMgr.
func NewBufferPool(capacity int, diskMgr PageStore) *BufferPool {
	bp := &BufferPool{
		capacity:  capacity,
		diskMgr:   diskMgr,
		frames:    make([]*frameSlot, capacity),
		pageTable: make(map[PageID]FrameID, capacity),
		shadows:   make(map[shadowKey]FrameID),
		replacer:  NewLRUReplacer(),
		latches:   make(map[PageID]*Latch),
	}
	for i := range bp.frames {
		bp.frames[i] = &frameSlot{id: FrameID(i)}
		bp.freeList = append(bp.freeList, FrameID(i))
	}
	return bp
}

// acquireFrame returns a free frame, evicting the least-recently-used
// evictable resident frame if none is free. Must be called with mu held.
func (bp *BufferPool) acquireFrame() (FrameID, error) {
	if n := len(bp.freeList); n > 0 {
		fid := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return fid, nil
	}

	fid, ok := bp.replacer.Evict()
	if !ok {
		return 0, ErrNoFreeFrame
	}

	f := bp.frames[fid]
	if f.page.IsDirty {
		if err := bp.diskMgr.WritePage(f.page); err != nil {
			return 0, fmt.Errorf("flush during eviction: %w", err)
		}
	}
	delete(bp.pageTable, f.page.ID)
	f.page = nil
	f.pinCount = 0
	bp.evictions++
	return fid, nil
}

// FetchFrame returns a pinned frame for pageID. If txnID is supplied and
// the page has been shadowed by that transaction, the shadow is
// returned instead of the base page.
func (bp *BufferPool) FetchFrame(pageID PageID, txnID *TxnID) (*Frame, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if txnID != nil {
		if fid, ok := bp.shadows[shadowKey{pageID, *txnID}]; ok {
			f := bp.frames[fid]
			f.pinCount++
			bp.hits++
			return wrapFrame(f), nil
		}
	}

	if fid, ok := bp.pageTable[pageID]; ok {
		f := bp.frames[fid]
		f.pinCount++
		bp.replacer.RecordAccess(fid)
		bp.replacer.SetEvictable(fid, false)
		bp.hits++
		return wrapFrame(f), nil
	}

	bp.misses++
	fid, err := bp.acquireFrame()
	if err != nil {
		return nil, err
	}
	page, err := bp.diskMgr.ReadPage(pageID)
	if err != nil {
		bp.freeList = append(bp.freeList, fid)
		return nil, fmt.Errorf("fetch page %d: %w", pageID, err)
	}

	f := bp.frames[fid]
	f.page = page
	f.pinCount = 1
	bp.pageTable[pageID] = fid
	bp.replacer.RecordAccess(fid)
	bp.replacer.SetEvictable(fid, false)
	return wrapFrame(f), nil
}

// NewPage allocates a fresh page id from the disk manager's persistent
// counter and returns a pinned frame for a zero-initialized page
// installed on disk under that id.
func (bp *BufferPool) NewPage() (*Frame, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	fid, err := bp.acquireFrame()
	if err != nil {
		return nil, err
	}

	pageID, err := bp.diskMgr.AllocateNextPageID()
	if err != nil {
		bp.freeList = append(bp.freeList, fid)
		return nil, fmt.Errorf("allocate page id: %w", err)
	}

	page := NewPage(pageID)
	if err := bp.diskMgr.WritePage(page); err != nil {
		bp.freeList = append(bp.freeList, fid)
		return nil, fmt.Errorf("write new page %d: %w", pageID, err)
	}

	f := bp.frames[fid]
	f.page = page
	f.pinCount = 1
	bp.pageTable[pageID] = fid
	bp.replacer.RecordAccess(fid)
	bp.replacer.SetEvictable(fid, false)
	return wrapFrame(f), nil
}

// Unpin decrements pageID's pin count. When it reaches zero the frame
// becomes evictable, and if dirty it is flushed to disk first
// (write-through on last unpin). If txnID is supplied and the page is a
// shadow owned by that transaction, the shadow frame is never flushed
// under the base page id; it is published or discarded explicitly by
// the transaction manager instead.
func (bp *BufferPool) Unpin(pageID PageID, txnID *TxnID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if txnID != nil {
		if fid, ok := bp.shadows[shadowKey{pageID, *txnID}]; ok {
			f := bp.frames[fid]
			if f.pinCount > 0 {
				f.pinCount--
			}
			return nil
		}
	}

	fid, ok := bp.pageTable[pageID]
	if !ok {
		return fmt.Errorf("unpin page %d: %w", pageID, ErrPageNotResident)
	}
	f := bp.frames[fid]
	if f.pinCount > 0 {
		f.pinCount--
	}
	if f.pinCount == 0 {
		if f.page.IsDirty {
			if err := bp.diskMgr.WritePage(f.page); err != nil {
				return fmt.Errorf("flush page %d on unpin: %w", pageID, err)
			}
			f.page.IsDirty = false
		}
		bp.replacer.SetEvictable(fid, true)
	}
	return nil
}

// GetPinCount returns pageID's current pin count. ok is false if the
// page is not resident.
func (bp *BufferPool) GetPinCount(pageID PageID) (count int, ok bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	fid, resident := bp.pageTable[pageID]
	if !resident {
		return 0, false
	}
	return bp.frames[fid].pinCount, true
}

// CreateShadow makes a private copy of pageID's current contents for
// txnID, pinned in its own frame and tracked outside the page table.
// Readers without this txnID continue to see the base page.
func (bp *BufferPool) CreateShadow(pageID PageID, txnID TxnID) (*Frame, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	key := shadowKey{pageID, txnID}
	if _, exists := bp.shadows[key]; exists {
		return nil, fmt.Errorf("shadow already exists for page %d txn %d", pageID, txnID)
	}

	var base *Page
	if fid, ok := bp.pageTable[pageID]; ok {
		base = bp.frames[fid].page
	} else {
		p, err := bp.diskMgr.ReadPage(pageID)
		if err != nil {
			return nil, fmt.Errorf("read base page %d: %w", pageID, err)
		}
		base = p
	}

	fid, err := bp.acquireFrame()
	if err != nil {
		return nil, err
	}

	shadow := NewPage(pageID)
	copy(shadow.Data, base.Data)
	f := bp.frames[fid]
	f.page = shadow
	f.pinCount = 1
	bp.shadows[key] = fid
	return wrapFrame(f), nil
}

// PublishShadow atomically replaces the base page in the page table
// with txnID's shadow of pageID, freeing the old base frame, and flushes
// the new base to disk. It is the page-table swap side of commit.
//
// The caller must hold pageID's latch exclusively (the transaction
// manager upgrades its upgradable-shared hold before calling). That
// latch, not the pool mutex, is what keeps the swap safe: shared
// readers hold the latch for as long as they hold a pin on the base
// frame, so draining them at upgrade guarantees no reader is left
// holding a reference into the frame being freed here.
func (bp *BufferPool) PublishShadow(pageID PageID, txnID TxnID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	key := shadowKey{pageID, txnID}
	shadowFid, ok := bp.shadows[key]
	if !ok {
		return fmt.Errorf("no shadow for page %d txn %d", pageID, txnID)
	}
	delete(bp.shadows, key)

	if oldFid, ok := bp.pageTable[pageID]; ok {
		old := bp.frames[oldFid]
		old.page = nil
		old.pinCount = 0
		bp.replacer.Remove(oldFid)
		bp.freeList = append(bp.freeList, oldFid)
	}

	shadowFrame := bp.frames[shadowFid]
	if err := bp.diskMgr.WritePage(shadowFrame.page); err != nil {
		return fmt.Errorf("flush committed page %d: %w", pageID, err)
	}
	shadowFrame.page.IsDirty = false
	if shadowFrame.pinCount > 0 {
		shadowFrame.pinCount--
	}

	bp.pageTable[pageID] = shadowFid
	bp.replacer.RecordAccess(shadowFid)
	bp.replacer.SetEvictable(shadowFid, shadowFrame.pinCount == 0)
	return nil
}

// DiscardShadow drops txnID's shadow of pageID without touching the
// base page. It is the abort-path counterpart to PublishShadow. The
// caller must still hold pageID's upgradable latch from the first
// touch; only the owning transaction ever references the shadow frame,
// so no reader drain is needed before it is freed.
func (bp *BufferPool) DiscardShadow(pageID PageID, txnID TxnID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	key := shadowKey{pageID, txnID}
	fid, ok := bp.shadows[key]
	if !ok {
		return fmt.Errorf("no shadow for page %d txn %d", pageID, txnID)
	}
	delete(bp.shadows, key)

	f := bp.frames[fid]
	f.page = nil
	f.pinCount = 0
	bp.freeList = append(bp.freeList, fid)
	return nil
}

// Latch returns the shared latch for pageID, creating it on first use.
// The latch is keyed by logical page id: it guards reads/writes of
// that page whether the caller is looking at the base copy or, via a
// transaction, its shadow.
func (bp *BufferPool) Latch(pageID PageID) *Latch {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	l, ok := bp.latches[pageID]
	if !ok {
		l = NewLatch()
		bp.latches[pageID] = l
	}
	return l
}

// FlushAll writes every resident dirty frame back to disk. Intended for
// buffer-pool teardown.
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for pageID, fid := range bp.pageTable {
		f := bp.frames[fid]
		if f.page.IsDirty {
			if err := bp.diskMgr.WritePage(f.page); err != nil {
				return fmt.Errorf("flush page %d: %w", pageID, err)
			}
			f.page.IsDirty = false
		}
	}
	return nil
}

// Stats returns buffer pool diagnostics.
func (bp *BufferPool) Stats() map[string]interface{} {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	total := bp.hits + bp.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(bp.hits) / float64(total) * 100
	}

	return map[string]interface{}{
		"capacity":  bp.capacity,
		"size":      len(bp.pageTable),
		"hits":      bp.hits,
		"misses":    bp.misses,
		"evictions": bp.evictions,
		"hit_rate":  hitRate,
	}
}
