package compression

import (
	"encoding/binary"
	"fmt"

	"github.com/mnohosten/laura-db/pkg/storage"
)

const (
	// PayloadHeaderSize is the size of the compressed blob payload header:
	// [1-byte algorithm][4-byte original size][4-byte compressed size]
	PayloadHeaderSize = 9
)

// BlobCompressor compresses large values before they are externalized
// into a table's blob page chain, so strings and other overflow
// payloads are stored compressed on disk rather than the whole page.
type BlobCompressor struct {
	compressor *Compressor
}

// NewBlobCompressor creates a new blob payload compressor.
func NewBlobCompressor(config *Config) (*BlobCompressor, error) {
	compressor, err := NewCompressor(config)
	if err != nil {
		return nil, err
	}

	return &BlobCompressor{
		compressor: compressor,
	}, nil
}

// CompressPayload compresses a blob's raw bytes for storage in a blob
// page chain. Returns [header][compressed data].
func (bc *BlobCompressor) CompressPayload(payload []byte) ([]byte, error) {
	compressed, err := bc.compressor.Compress(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to compress blob payload: %w", err)
	}

	result := make([]byte, PayloadHeaderSize+len(compressed))
	result[0] = byte(bc.compressor.config.Algorithm)
	binary.LittleEndian.PutUint32(result[1:5], uint32(len(payload)))
	binary.LittleEndian.PutUint32(result[5:9], uint32(len(compressed)))
	copy(result[PayloadHeaderSize:], compressed)

	return result, nil
}

// DecompressPayload reverses CompressPayload, returning the blob's
// original bytes.
func (bc *BlobCompressor) DecompressPayload(data []byte) ([]byte, error) {
	if len(data) < PayloadHeaderSize {
		return nil, fmt.Errorf("invalid compressed payload: too short")
	}

	algorithm := Algorithm(data[0])
	originalSize := binary.LittleEndian.Uint32(data[1:5])
	compressedSize := binary.LittleEndian.Uint32(data[5:9])

	if algorithm != bc.compressor.config.Algorithm {
		return nil, fmt.Errorf("algorithm mismatch: expected %v, got %v",
			bc.compressor.config.Algorithm, algorithm)
	}

	if len(data)-PayloadHeaderSize != int(compressedSize) {
		return nil, fmt.Errorf("compressed size mismatch: expected %d, got %d",
			compressedSize, len(data)-PayloadHeaderSize)
	}

	compressedData := data[PayloadHeaderSize:]
	decompressed, err := bc.compressor.Decompress(compressedData)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress blob payload: %w", err)
	}

	if len(decompressed) != int(originalSize) {
		return nil, fmt.Errorf("decompressed size mismatch: expected %d, got %d",
			originalSize, len(decompressed))
	}

	return decompressed, nil
}

// Close releases the underlying compressor's resources.
func (bc *BlobCompressor) Close() error {
	return bc.compressor.Close()
}

// BlobCompressionStats holds statistics about a compressed blob payload.
type BlobCompressionStats struct {
	PageID         storage.PageID
	OriginalSize   int
	CompressedSize int
	Ratio          float64
	SpaceSavings   float64
	Algorithm      string
}

// GetPayloadCompressionStats returns compression statistics for a blob
// payload, attributing them to the first blob page it will occupy.
func (bc *BlobCompressor) GetPayloadCompressionStats(firstPageID storage.PageID, payload []byte) (*BlobCompressionStats, error) {
	compressed, err := bc.compressor.Compress(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to compress blob payload: %w", err)
	}

	originalSize := len(payload)
	compressedSize := len(compressed)

	return &BlobCompressionStats{
		PageID:         firstPageID,
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		Ratio:          CompressionRatio(originalSize, compressedSize),
		SpaceSavings:   SpaceSavings(originalSize, compressedSize),
		Algorithm:      bc.compressor.config.Algorithm.String(),
	}, nil
}
