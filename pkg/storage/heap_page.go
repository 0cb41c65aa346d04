package storage

import (
	"encoding/binary"
	"fmt"
)

// Heap (slotted) page layout:
//
//	[0:4]  next_page_id (int32)
//	[4:6]  num_tuples (uint16)
//	[6:8]  padding
//	slot directory, growing forward from byte 8: {offset:u16, size:u16}
//	tuple region, growing backward from PageSize: TupleMetaData || tuple bytes
const (
	heapHeaderSize = 8
	heapSlotSize   = 4
	tupleMetaSize  = 9 // is_deleted:u8 + null_bitmap:u64
)

// SlotID identifies a tuple's slot within a heap page.
type SlotID uint16

// TupleID is a stable reference to a stored tuple: the page it lives on
// and its slot within that page.
type TupleID struct {
	PageID PageID
	Slot   SlotID
}

// TupleMetaData prefixes every stored tuple.
type TupleMetaData struct {
	IsDeleted  bool
	NullBitmap uint64
}

type heapSlotEntry struct {
	Offset uint16
	Size   uint16
}

// HeapPage is a typed view over a page's bytes as a slotted heap page.
// It holds no data of its own beyond bookkeeping derived from the page;
// all durable state lives in page.Data.
type HeapPage struct {
	page         *Page
	nextPageID   PageID
	numTuples    uint16
	freeSpaceEnd uint16 // offset of the start of the tuple region
}

// NewHeapPage initializes page as an empty heap page.
func NewHeapPage(page *Page) *HeapPage {
	hp := &HeapPage{
		page:         page,
		nextPageID:   InvalidPageID,
		numTuples:    0,
		freeSpaceEnd: uint16(len(page.Data)),
	}
	hp.writeHeader()
	page.MarkDirty()
	return hp
}

// LoadHeapPage interprets an already-populated page as a heap page.
func LoadHeapPage(page *Page) *HeapPage {
	hp := &HeapPage{page: page}
	hp.nextPageID = PageID(int32(binary.LittleEndian.Uint32(page.Data[0:4])))
	hp.numTuples = binary.LittleEndian.Uint16(page.Data[4:6])
	hp.freeSpaceEnd = hp.computeFreeSpaceEnd()
	return hp
}

func (hp *HeapPage) computeFreeSpaceEnd() uint16 {
	end := uint16(len(hp.page.Data))
	for i := uint16(0); i < hp.numTuples; i++ {
		s := hp.readSlot(i)
		if s.Size > 0 && s.Offset < end {
			end = s.Offset
		}
	}
	return end
}

func (hp *HeapPage) writeHeader() {
	binary.LittleEndian.PutUint32(hp.page.Data[0:4], uint32(int32(hp.nextPageID)))
	binary.LittleEndian.PutUint16(hp.page.Data[4:6], hp.numTuples)
}

func (hp *HeapPage) slotOffset(slotID uint16) int {
	return heapHeaderSize + int(slotID)*heapSlotSize
}

func (hp *HeapPage) readSlot(slotID uint16) heapSlotEntry {
	off := hp.slotOffset(slotID)
	return heapSlotEntry{
		Offset: binary.LittleEndian.Uint16(hp.page.Data[off : off+2]),
		Size:   binary.LittleEndian.Uint16(hp.page.Data[off+2 : off+4]),
	}
}

func (hp *HeapPage) writeSlot(slotID uint16, s heapSlotEntry) {
	off := hp.slotOffset(slotID)
	binary.LittleEndian.PutUint16(hp.page.Data[off:off+2], s.Offset)
	binary.LittleEndian.PutUint16(hp.page.Data[off+2:off+4], s.Size)
}

// NextPageID returns the id of the next page in this heap's chain, or
// InvalidPageID if this is the last page.
func (hp *HeapPage) NextPageID() PageID {
	return hp.nextPageID
}

// SetNextPageID links this page to the next one in the chain.
func (hp *HeapPage) SetNextPageID(id PageID) {
	hp.nextPageID = id
	hp.writeHeader()
	hp.page.MarkDirty()
}

// NumTuples returns the number of slots ever allocated on this page,
// including deleted ones.
func (hp *HeapPage) NumTuples() uint16 {
	return hp.numTuples
}

// FreeSpace returns the number of contiguous bytes available for a new
// tuple insertion (not counting space reclaimable from deletions, which
// this layout never reclaims).
func (hp *HeapPage) FreeSpace() int {
	slotDirEnd := heapHeaderSize + int(hp.numTuples)*heapSlotSize
	return int(hp.freeSpaceEnd) - slotDirEnd
}

// InsertTuple appends a new tuple to the page. It returns the assigned
// slot id and false if the page has no room (the caller must then chain
// to a new page).
func (hp *HeapPage) InsertTuple(data []byte, meta TupleMetaData) (SlotID, bool) {
	entrySize := tupleMetaSize + len(data)
	slotDirEnd := heapHeaderSize + int(hp.numTuples+1)*heapSlotSize
	if int(hp.freeSpaceEnd)-entrySize < slotDirEnd {
		return 0, false
	}

	offset := hp.freeSpaceEnd - uint16(entrySize)
	hp.writeEntry(offset, meta, data)

	slotID := hp.numTuples
	hp.writeSlot(slotID, heapSlotEntry{Offset: offset, Size: uint16(entrySize)})
	hp.numTuples++
	hp.freeSpaceEnd = offset

	hp.writeHeader()
	hp.page.MarkDirty()
	return SlotID(slotID), true
}

func (hp *HeapPage) writeEntry(offset uint16, meta TupleMetaData, data []byte) {
	buf := hp.page.Data
	if meta.IsDeleted {
		buf[offset] = 1
	} else {
		buf[offset] = 0
	}
	binary.LittleEndian.PutUint64(buf[offset+1:offset+9], meta.NullBitmap)
	copy(buf[int(offset)+tupleMetaSize:], data)
}

// GetTuple returns the tuple stored at slotID along with its metadata.
// ok is false for an out-of-range slot id.
func (hp *HeapPage) GetTuple(slotID SlotID) (data []byte, meta TupleMetaData, ok bool) {
	if uint16(slotID) >= hp.numTuples {
		return nil, TupleMetaData{}, false
	}
	s := hp.readSlot(uint16(slotID))
	buf := hp.page.Data
	meta.IsDeleted = buf[s.Offset] != 0
	meta.NullBitmap = binary.LittleEndian.Uint64(buf[s.Offset+1 : s.Offset+9])
	dataLen := int(s.Size) - tupleMetaSize
	data = make([]byte, dataLen)
	copy(data, buf[int(s.Offset)+tupleMetaSize:int(s.Offset)+int(s.Size)])
	return data, meta, true
}

// DeleteTuple sets the is_deleted bit for slotID. Space is not reclaimed.
func (hp *HeapPage) DeleteTuple(slotID SlotID) error {
	if uint16(slotID) >= hp.numTuples {
		return fmt.Errorf("invalid slot id %d (have %d tuples)", slotID, hp.numTuples)
	}
	s := hp.readSlot(uint16(slotID))
	hp.page.Data[s.Offset] = 1
	hp.page.MarkDirty()
	return nil
}

// Page returns the underlying page.
func (hp *HeapPage) Page() *Page {
	return hp.page
}

// overwriteTupleData replaces an existing slot's payload bytes in place.
// It requires the new data to be exactly the stored entry's current
// size and is only used internally, by the disk manager's next-page-id
// counter, which is the one heap tuple the storage layer mutates after
// insertion.
func (hp *HeapPage) overwriteTupleData(slotID SlotID, data []byte) bool {
	if uint16(slotID) >= hp.numTuples {
		return false
	}
	s := hp.readSlot(uint16(slotID))
	if int(s.Size)-tupleMetaSize != len(data) {
		return false
	}
	copy(hp.page.Data[int(s.Offset)+tupleMetaSize:int(s.Offset)+int(s.Size)], data)
	hp.page.MarkDirty()
	return true
}
