// Package chunker splits payloads into fixed-size chunks and joins them back.
package chunker

import (
	"errors"
	"fmt"
	"io"
)

var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// Split cuts data into consecutive chunks of size bytes; only the last chunk
// may be shorter. Empty input yields no chunks. Chunks alias data.
func Split(data []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, size)
	}
	chunks := make([][]byte, 0, Count(int64(len(data)), size))
	for len(data) > 0 {
		n := min(size, len(data))
		chunks = append(chunks, data[:n:n])
		data = data[n:]
	}
	return chunks, nil
}

// Join concatenates chunks in order. It is the inverse of Split.
func Join(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// Count returns how many chunks a payload of length bytes produces.
func Count(length int64, size int) int {
	if length <= 0 || size <= 0 {
		return 0
	}
	return int((length + int64(size) - 1) / int64(size))
}

// Reader produces the same chunk sequence as Split from a stream, holding at
// most one chunk in memory.
type Reader struct {
	r     io.Reader
	size  int
	index int
	done  bool
}

func NewReader(r io.Reader, size int) (*Reader, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, size)
	}
	return &Reader{r: r, size: size}, nil
}

// Next returns the next chunk and its index, or io.EOF once the stream is
// exhausted. The returned slice is freshly allocated on every call.
func (c *Reader) Next() ([]byte, int, error) {
	if c.done {
		return nil, 0, io.EOF
	}
	buf := make([]byte, c.size)
	n, err := io.ReadFull(c.r, buf)
	switch {
	case errors.Is(err, io.EOF):
		c.done = true
		return nil, 0, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
	case err != nil:
		return nil, 0, err
	}
	idx := c.index
	c.index++
	return buf[:n], idx, nil
}
