package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// DiskManager moves fixed-size pages between a single backing file and
// memory. It holds no state beyond the open file handle, a mutex and its
// read/write counters, and is safe to
// call from multiple goroutines provided the caller serializes access
// per page id, which the buffer pool does.
type DiskManager struct {
	dataFile *os.File
	mu       sync.Mutex

	totalReads  int64
	totalWrites int64
}

// NewDiskManager opens (creating if necessary) the backing file at path
// and bootstraps the catalog root page and the next-page-id counter
// page if the file is new.
func NewDiskManager(path string) (*DiskManager, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}

	dm := &DiskManager{dataFile: file}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat data file: %w", err)
	}

	if info.Size() == 0 {
		if err := dm.bootstrap(); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to bootstrap data file: %w", err)
		}
	}

	return dm, nil
}

// bootstrap writes an empty heap page at the catalog root and
// initializes the next-page-id counter page. The catalog stores its
// own rows in a heap table whose first page is the root, so a fresh
// file needs that page in place before anything can open the catalog.
func (dm *DiskManager) bootstrap() error {
	root := NewPage(CatalogRootPageID)
	NewHeapPage(root)
	if err := dm.writePageInternal(root); err != nil {
		return fmt.Errorf("failed to write catalog root: %w", err)
	}

	counter := NewPage(NextPageIDCounterPageID)
	hp := NewHeapPage(counter)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(1))
	if _, ok := hp.InsertTuple(buf, TupleMetaData{}); !ok {
		return fmt.Errorf("failed to seed next-page-id counter")
	}
	return dm.writePageInternal(counter)
}

// ReadPage reads the page at pageID from disk. The page must already
// have been written at least once (by bootstrap or BufferPool.NewPage);
// a partial read past the end of the file is surfaced as ErrIOShort.
func (dm *DiskManager) ReadPage(pageID PageID) (*Page, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.readPageInternal(pageID)
}

func (dm *DiskManager) readPageInternal(pageID PageID) (*Page, error) {
	offset := int64(pageID) * PageSize
	data := make([]byte, PageSize)

	n, err := dm.dataFile.ReadAt(data, offset)
	if err != nil && n != PageSize {
		return nil, fmt.Errorf("read page %d: %w: %v", pageID, ErrIOShort, err)
	}
	if n != PageSize {
		return nil, fmt.Errorf("read page %d: %w", pageID, ErrIOShort)
	}

	page := NewPage(pageID)
	if err := page.Deserialize(data); err != nil {
		return nil, fmt.Errorf("deserialize page %d: %w", pageID, err)
	}

	dm.totalReads++
	return page, nil
}

// WritePage writes page to its slot in the backing file. The write
// must be full-page; short writes are surfaced as ErrIOShort.
func (dm *DiskManager) WritePage(page *Page) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.writePageInternal(page)
}

func (dm *DiskManager) writePageInternal(page *Page) error {
	offset := int64(page.ID) * PageSize
	data := page.Serialize()

	n, err := dm.dataFile.WriteAt(data, offset)
	if err != nil {
		return fmt.Errorf("write page %d: %w", page.ID, err)
	}
	if n != PageSize {
		return fmt.Errorf("write page %d: %w", page.ID, ErrIOShort)
	}

	dm.totalWrites++
	return nil
}

// AllocateNextPageID reads and increments the persistent next-page-id
// counter stored on NextPageIDCounterPageID, returning the id to assign
// to a freshly allocated page. The disk manager has no opinion about
// page ids otherwise; the buffer pool drives allocation through this
// and the ordinary read/write interface.
func (dm *DiskManager) AllocateNextPageID() (PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	counter, err := dm.readPageInternal(NextPageIDCounterPageID)
	if err != nil {
		return InvalidPageID, fmt.Errorf("read next-page-id counter: %w", err)
	}
	hp := LoadHeapPage(counter)
	raw, _, ok := hp.GetTuple(0)
	if !ok {
		return InvalidPageID, fmt.Errorf("next-page-id counter slot missing")
	}
	next := PageID(binary.LittleEndian.Uint64(raw))

	updated := make([]byte, 8)
	binary.LittleEndian.PutUint64(updated, uint64(next)+1)
	if !hp.overwriteTupleData(0, updated) {
		return InvalidPageID, fmt.Errorf("failed to persist next-page-id counter")
	}
	if err := dm.writePageInternal(counter); err != nil {
		return InvalidPageID, fmt.Errorf("write next-page-id counter: %w", err)
	}

	return next, nil
}

// Sync flushes the backing file to stable storage.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.dataFile.Sync()
}

// Close flushes and closes the backing file.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.dataFile.Sync(); err != nil {
		return err
	}
	return dm.dataFile.Close()
}

// Stats returns disk manager diagnostics.
func (dm *DiskManager) Stats() map[string]interface{} {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return map[string]interface{}{
		"total_reads":  dm.totalReads,
		"total_writes": dm.totalWrites,
	}
}
