package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrBufferClosed is returned by operations on a closed Buffer.
var ErrBufferClosed = errors.New("media buffer closed")

// Chunk is one appended piece of media with the time extent it covers.
type Chunk struct {
	Range
	Data []byte
}

// Buffer is an in-memory buffered-media sink. It keeps appended chunks
// keyed by time, tracks the buffered extents and can mirror every appended
// byte to an io.Writer.
//
// Buffer does not parse media. The extent of an append is derived from the
// timestamp offset and the append window, which the caller sets to the
// segment end before each append.
type Buffer struct {
	mu          sync.Mutex
	windowStart float64
	windowEnd   float64
	chunks      []Chunk
	buffered    TimeRanges
	out         io.Writer
	written     int64
	closed      bool
}

// NewBuffer returns an empty Buffer. out may be nil.
func NewBuffer(out io.Writer) *Buffer {
	return &Buffer{out: out}
}

// SetAppendWindow sets the interval that subsequent appends are clipped to.
func (b *Buffer) SetAppendWindow(start, end float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windowStart = start
	b.windowEnd = end
}

// AppendWindow returns the current append window.
func (b *Buffer) AppendWindow() (start, end float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.windowStart, b.windowEnd
}

// Append stores data starting at timestampOffset and running to the end of
// the append window. It returns once the data is buffered.
func (b *Buffer) Append(ctx context.Context, timestampOffset float64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}

	start := max(timestampOffset, b.windowStart)
	end := b.windowEnd
	if end <= start {
		return nil
	}

	if b.out != nil {
		n, err := b.out.Write(data)
		b.written += int64(n)
		if err != nil {
			return fmt.Errorf("mirror append: %w", err)
		}
	}

	b.chunks = append(b.chunks, Chunk{Range: Range{Start: start, End: end}, Data: data})
	b.buffered = b.buffered.Add(start, end)
	return nil
}

// Remove evicts buffered media in [start, end]. Chunks that straddle an
// edge are trimmed to what remains, and a chunk cut in the middle becomes
// two. Data is opaque, so trimmed pieces keep the bytes of the original
// chunk; the chunk ranges always cover exactly what Buffered reports.
func (b *Buffer) Remove(ctx context.Context, start, end float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}

	kept := make([]Chunk, 0, len(b.chunks))
	for _, c := range b.chunks {
		if c.End <= start || c.Start >= end {
			kept = append(kept, c)
			continue
		}
		if c.Start < start {
			head := c
			head.End = start
			kept = append(kept, head)
		}
		if c.End > end {
			tail := c
			tail.Start = end
			kept = append(kept, tail)
		}
	}
	b.chunks = kept
	b.buffered = b.buffered.Remove(start, end)
	return nil
}

// Buffered returns a snapshot of the buffered extents.
func (b *Buffer) Buffered() TimeRanges {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffered.Clone()
}

// Chunks returns the stored chunks in append order.
func (b *Buffer) Chunks() []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// BytesWritten returns the number of bytes mirrored to the writer.
func (b *Buffer) BytesWritten() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Close releases the stored chunks. Further appends fail.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.chunks = nil
	return nil
}
