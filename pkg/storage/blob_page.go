package storage

// BlobPage is a heap page reused to store externalized variable-length
// payloads (currently just strings). The byte layout is identical to a
// regular heap page; the alias exists so call sites read as what they
// mean rather than what they reuse.
type BlobPage = HeapPage

// NewBlobPage initializes page as an empty blob page.
func NewBlobPage(page *Page) *BlobPage {
	return NewHeapPage(page)
}

// LoadBlobPage interprets an already-populated page as a blob page.
func LoadBlobPage(page *Page) *BlobPage {
	return LoadHeapPage(page)
}
