package storage

import (
	"encoding/binary"
	"fmt"
)

// BTreePageType distinguishes a B+-tree page's role.
type BTreePageType uint32

const (
	BTreePageInvalid BTreePageType = iota
	BTreePageLeaf
	BTreePageInner
)

// KeysPerNode is the build-time constant chosen so a leaf just fits in
// one page.
const KeysPerNode = 406

// ValuesPerNode is one more than KeysPerNode: inner nodes hold n+1
// children for n keys.
const ValuesPerNode = KeysPerNode + 1

// BTreeValueSize is the width of a leaf or inner value entry.
const BTreeValueSize = 6

// B+-tree page layout:
//
//	[0:3]   padding
//	[3:4]   is_dirty (byte mirror, unused by the view itself)
//	[4:8]   page_type (uint32)
//	[8:12]  prev (PageID)
//	[12:16] next (PageID)
//	[16:18] key count
//	[18:18+406*4] keys (uint32 each)
//	thereafter: value count (uint16) + values (6 bytes each, cap 407)
const (
	btreeHeaderSize     = 16
	btreeKeyCountOffset = btreeHeaderSize
	btreeKeysOffset     = btreeKeyCountOffset + 2
	btreeKeysArea       = btreeKeysOffset + KeysPerNode*4
	btreeValCountOffset = btreeKeysArea
	btreeValuesOffset   = btreeValCountOffset + 2
)

// BTreeValue is a fixed 6-byte value: a leaf tuple-id (PageID+SlotID) or
// an inner child PageID padded with zero.
type BTreeValue [BTreeValueSize]byte

// EncodeLeafValue packs a tuple-id into a leaf value entry.
func EncodeLeafValue(pageID PageID, slot SlotID) BTreeValue {
	var v BTreeValue
	binary.LittleEndian.PutUint32(v[0:4], uint32(int32(pageID)))
	binary.LittleEndian.PutUint16(v[4:6], uint16(slot))
	return v
}

// DecodeLeafValue unpacks a leaf value entry into a tuple-id.
func DecodeLeafValue(v BTreeValue) (PageID, SlotID) {
	pid := PageID(int32(binary.LittleEndian.Uint32(v[0:4])))
	slot := SlotID(binary.LittleEndian.Uint16(v[4:6]))
	return pid, slot
}

// EncodeInnerValue packs a child page id into an inner value entry.
func EncodeInnerValue(pageID PageID) BTreeValue {
	var v BTreeValue
	binary.LittleEndian.PutUint32(v[0:4], uint32(int32(pageID)))
	return v
}

// DecodeInnerValue unpacks an inner value entry into a child page id.
func DecodeInnerValue(v BTreeValue) PageID {
	return PageID(int32(binary.LittleEndian.Uint32(v[0:4])))
}

// BTreePage is a typed view over a page's bytes as a B+-tree node.
type BTreePage struct {
	page *Page

	pageType BTreePageType
	prev     PageID
	next     PageID
	keys     []uint32
	values   []BTreeValue
}

// NewBTreePage initializes page as an empty B+-tree node of the given type.
func NewBTreePage(page *Page, pageType BTreePageType) *BTreePage {
	bp := &BTreePage{
		page:     page,
		pageType: pageType,
		prev:     InvalidPageID,
		next:     InvalidPageID,
	}
	bp.writeHeader()
	bp.writeKeys()
	bp.writeValues()
	page.MarkDirty()
	return bp
}

// LoadBTreePage interprets an already-populated page as a B+-tree node.
func LoadBTreePage(page *Page) *BTreePage {
	bp := &BTreePage{page: page}
	data := page.Data
	bp.pageType = BTreePageType(binary.LittleEndian.Uint32(data[4:8]))
	bp.prev = PageID(int32(binary.LittleEndian.Uint32(data[8:12])))
	bp.next = PageID(int32(binary.LittleEndian.Uint32(data[12:16])))

	keyCount := binary.LittleEndian.Uint16(data[btreeKeyCountOffset : btreeKeyCountOffset+2])
	bp.keys = make([]uint32, keyCount)
	for i := uint16(0); i < keyCount; i++ {
		off := btreeKeysOffset + int(i)*4
		bp.keys[i] = binary.LittleEndian.Uint32(data[off : off+4])
	}

	valCount := binary.LittleEndian.Uint16(data[btreeValCountOffset : btreeValCountOffset+2])
	bp.values = make([]BTreeValue, valCount)
	for i := uint16(0); i < valCount; i++ {
		off := btreeValuesOffset + int(i)*BTreeValueSize
		copy(bp.values[i][:], data[off:off+BTreeValueSize])
	}

	return bp
}

func (bp *BTreePage) writeHeader() {
	data := bp.page.Data
	binary.LittleEndian.PutUint32(data[4:8], uint32(bp.pageType))
	binary.LittleEndian.PutUint32(data[8:12], uint32(int32(bp.prev)))
	binary.LittleEndian.PutUint32(data[12:16], uint32(int32(bp.next)))
}

func (bp *BTreePage) writeKeys() {
	data := bp.page.Data
	binary.LittleEndian.PutUint16(data[btreeKeyCountOffset:btreeKeyCountOffset+2], uint16(len(bp.keys)))
	for i, k := range bp.keys {
		off := btreeKeysOffset + i*4
		binary.LittleEndian.PutUint32(data[off:off+4], k)
	}
}

func (bp *BTreePage) writeValues() {
	data := bp.page.Data
	binary.LittleEndian.PutUint16(data[btreeValCountOffset:btreeValCountOffset+2], uint16(len(bp.values)))
	for i, v := range bp.values {
		off := btreeValuesOffset + i*BTreeValueSize
		copy(data[off:off+BTreeValueSize], v[:])
	}
}

// PageType returns whether this node is a leaf or an inner node.
func (bp *BTreePage) PageType() BTreePageType {
	return bp.pageType
}

// SetPageType changes the node's role.
func (bp *BTreePage) SetPageType(t BTreePageType) {
	bp.pageType = t
	bp.writeHeader()
	bp.page.MarkDirty()
}

// Prev returns the previous leaf in key order, or InvalidPageID.
func (bp *BTreePage) Prev() PageID { return bp.prev }

// Next returns the next leaf in key order, or InvalidPageID.
func (bp *BTreePage) Next() PageID { return bp.next }

// SetPrev sets the previous-leaf link.
func (bp *BTreePage) SetPrev(id PageID) {
	bp.prev = id
	bp.writeHeader()
	bp.page.MarkDirty()
}

// SetNext sets the next-leaf link.
func (bp *BTreePage) SetNext(id PageID) {
	bp.next = id
	bp.writeHeader()
	bp.page.MarkDirty()
}

// Keys returns a copy of the node's key array.
func (bp *BTreePage) Keys() []uint32 {
	out := make([]uint32, len(bp.keys))
	copy(out, bp.keys)
	return out
}

// Values returns a copy of the node's value array.
func (bp *BTreePage) Values() []BTreeValue {
	out := make([]BTreeValue, len(bp.values))
	copy(out, bp.values)
	return out
}

// SetKeys replaces the node's key array and persists it.
func (bp *BTreePage) SetKeys(keys []uint32) error {
	if len(keys) > KeysPerNode {
		return fmt.Errorf("too many keys: %d exceeds capacity %d", len(keys), KeysPerNode)
	}
	bp.keys = append([]uint32(nil), keys...)
	bp.writeKeys()
	bp.page.MarkDirty()
	return nil
}

// SetValues replaces the node's value array and persists it.
func (bp *BTreePage) SetValues(values []BTreeValue) error {
	if len(values) > ValuesPerNode {
		return fmt.Errorf("too many values: %d exceeds capacity %d", len(values), ValuesPerNode)
	}
	bp.values = append([]BTreeValue(nil), values...)
	bp.writeValues()
	bp.page.MarkDirty()
	return nil
}

// IsFull reports whether a leaf (len(keys)==KeysPerNode) or inner node
// (len(keys)==KeysPerNode, since inner holds KeysPerNode+1 values) has no
// room for one more key.
func (bp *BTreePage) IsFull() bool {
	return len(bp.keys) >= KeysPerNode
}

// Page returns the underlying page.
func (bp *BTreePage) Page() *Page {
	return bp.page
}
