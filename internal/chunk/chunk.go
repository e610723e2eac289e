// Package chunk splits byte sequences into fixed-size chunks and reassembles them.
package chunk

import (
	"errors"
	"fmt"
	"io"
)

// ErrIncompleteTransfer is returned by Reassemble when a slot is still empty.
var ErrIncompleteTransfer = errors.New("incomplete transfer")

// ErrSizeMismatch is returned by Reassemble when the joined length differs from the declared size.
var ErrSizeMismatch = errors.New("reassembled size does not match declared size")

// ErrInvalidChunkSize is returned for non-positive chunk sizes.
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// IncompleteTransferError reports the first chunk index that never arrived.
type IncompleteTransferError struct {
	Missing int
	Total   int
}

func (e *IncompleteTransferError) Error() string {
	return fmt.Sprintf("incomplete transfer: chunk %d of %d missing", e.Missing, e.Total)
}

func (e *IncompleteTransferError) Unwrap() error {
	return ErrIncompleteTransfer
}

func TotalChunks(size int64, chunkSize int) int {
	if chunkSize <= 0 || size <= 0 {
		return 0
	}
	c := int64(chunkSize)
	return int((size + c - 1) / c)
}

// Bounds returns the byte range [start, end) covered by chunk index.
func Bounds(index int, chunkSize int, size int64) (int64, int64) {
	start := int64(index) * int64(chunkSize)
	end := start + int64(chunkSize)
	if end > size {
		end = size
	}
	if start > size {
		start = size
	}
	return start, end
}

// Split cuts data into chunks of chunkSize bytes. The last chunk may be
// shorter and empty input yields no chunks. Chunks alias data.
func Split(data []byte, chunkSize int) ([][]byte, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	total := TotalChunks(int64(len(data)), chunkSize)
	chunks := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start, end := Bounds(i, chunkSize, int64(len(data)))
		chunks = append(chunks, data[start:end])
	}
	return chunks, nil
}

// Reassemble joins slots in index order. Every slot must be non-nil and the
// result must be exactly size bytes long.
func Reassemble(slots [][]byte, size int64) ([]byte, error) {
	var total int64
	for i, s := range slots {
		if s == nil {
			return nil, &IncompleteTransferError{Missing: i, Total: len(slots)}
		}
		total += int64(len(s))
	}
	if total != size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, total, size)
	}

	out := make([]byte, 0, total)
	for _, s := range slots {
		out = append(out, s...)
	}
	return out, nil
}

// ReadChunk reads chunk index of a source of the given size.
func ReadChunk(r io.ReaderAt, index, chunkSize int, size int64) ([]byte, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	start, end := Bounds(index, chunkSize, size)
	if index < 0 || start >= end {
		return nil, fmt.Errorf("chunk %d out of range for %d bytes", index, size)
	}

	data := make([]byte, end-start)
	n, err := r.ReadAt(data, start)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == end-start) {
		return nil, fmt.Errorf("reading chunk %d: %w", index, err)
	}
	return data, nil
}
