package gpio

import (
	"errors"
	"sync"
)

// FakeReader is a test double that returns scripted detector frames.
type FakeReader struct {
	mu sync.Mutex

	// Frames contains scripted readings; each call to Read() consumes the next.
	Frames [][]Sample

	// index tracks current position in Frames
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given frames.
func NewFakeReader(frames [][]Sample) *FakeReader {
	return &FakeReader{Frames: frames}
}

// Read returns the next scripted frame.
// If frames are exhausted, returns the last frame repeatedly.
func (f *FakeReader) Read() ([]Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return nil, f.ReadError
	}

	if len(f.Frames) == 0 {
		return nil, errors.New("no frames configured")
	}

	frame := f.Frames[f.index]
	if f.index < len(f.Frames)-1 {
		f.index++
	}

	out := make([]Sample, len(frame))
	copy(out, frame)
	return out, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset resets the reader to the first frame.
func (f *FakeReader) Reset() {
	f.mu.Lock()
	f.index = 0
	f.Closed = false
	f.mu.Unlock()
}
