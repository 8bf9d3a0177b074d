package source

import "io"

// MemorySource serves reads from an in-memory byte slice.
type MemorySource struct {
	data []byte
	pos  int64
}

// NewMemorySource returns a Source over data. The slice is not copied.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

func (m *MemorySource) ReadExact(p []byte) error {
	if err := m.Peek(p); err != nil {
		return err
	}
	m.pos += int64(len(p))
	return nil
}

func (m *MemorySource) Peek(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	size := int64(len(m.data))
	if m.pos >= size {
		return io.EOF
	}
	if m.pos+int64(len(p)) > size {
		return io.ErrUnexpectedEOF
	}
	copy(p, m.data[m.pos:])
	return nil
}

func (m *MemorySource) Seek(offset int64, whence int) (int64, error) {
	pos, err := resolveSeek(m.pos, int64(len(m.data)), offset, whence)
	if err != nil {
		return m.pos, err
	}
	m.pos = pos
	return pos, nil
}

func (m *MemorySource) Position() int64              { return m.pos }
func (m *MemorySource) Size() int64                  { return int64(len(m.data)) }
func (m *MemorySource) LastAvailablePosition() int64 { return -1 }
func (m *MemorySource) Eof() bool                    { return m.pos >= int64(len(m.data)) }
