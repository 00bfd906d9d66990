package terminal

import "io"

// Master is the manager side of a pseudo-terminal pair.
type Master interface {
	// Resize changes the terminal geometry. It is safe to call while a
	// cloned reader is being read from.
	Resize(rows, cols uint16) error
	// CloneReader returns an independent handle for reading child output.
	CloneReader() (io.ReadCloser, error)
	// TakeWriter returns the handle used to send input to the child.
	TakeWriter() (io.Writer, error)
	Close() error
}

// Slave is the child side of a pseudo-terminal pair.
type Slave interface {
	Spawn(spec SpawnSpec) (Child, error)
	Close() error
}

// Allocator opens pseudo-terminal pairs.
type Allocator interface {
	Open(rows, cols uint16) (Master, Slave, error)
}

// NativeAllocator returns the allocator for the host platform.
func NativeAllocator() Allocator {
	return nativeAllocator{}
}

// clampSize rejects zero-sized terminals by raising each axis to 1.
func clampSize(rows, cols uint16) (uint16, uint16) {
	return max(rows, 1), max(cols, 1)
}
