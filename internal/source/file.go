package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

const fileReadBufferSize = 64 * 1024

// FileSource reads from a seekable file. Peeks are served by a bufio.Reader
// that is reset on every seek.
type FileSource struct {
	f    io.ReadSeeker
	br   *bufio.Reader
	pos  int64
	size int64
	c    io.Closer
}

// OpenFile opens path as a FileSource. The caller must Close it.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	fs := NewFileSource(f, st.Size())
	fs.c = f
	return fs, nil
}

// NewFileSource wraps r whose total length is size bytes.
func NewFileSource(r io.ReadSeeker, size int64) *FileSource {
	return &FileSource{
		f:    r,
		br:   bufio.NewReaderSize(r, fileReadBufferSize),
		size: size,
	}
}

func (s *FileSource) ReadExact(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := s.check(len(p)); err != nil {
		return err
	}
	if _, err := io.ReadFull(s.br, p); err != nil {
		// Resynchronize the buffered reader with the file position.
		s.reset()
		return err
	}
	s.pos += int64(len(p))
	return nil
}

func (s *FileSource) Peek(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := s.check(len(p)); err != nil {
		return err
	}
	if len(p) <= fileReadBufferSize {
		b, err := s.br.Peek(len(p))
		if err != nil {
			return err
		}
		copy(p, b)
		return nil
	}
	// Larger than the buffer: read and rewind.
	pos := s.pos
	if err := s.ReadExact(p); err != nil {
		return err
	}
	_, err := s.Seek(pos, io.SeekStart)
	return err
}

func (s *FileSource) check(n int) error {
	if s.pos >= s.size {
		return io.EOF
	}
	if s.pos+int64(n) > s.size {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (s *FileSource) reset() {
	if pos, err := s.f.Seek(s.pos, io.SeekStart); err == nil {
		s.pos = pos
	}
	s.br.Reset(s.f)
}

func (s *FileSource) Seek(offset int64, whence int) (int64, error) {
	pos, err := resolveSeek(s.pos, s.size, offset, whence)
	if err != nil {
		return s.pos, err
	}
	if pos == s.pos {
		return pos, nil
	}
	if _, err := s.f.Seek(pos, io.SeekStart); err != nil {
		return s.pos, err
	}
	s.pos = pos
	s.br.Reset(s.f)
	return pos, nil
}

func (s *FileSource) Position() int64              { return s.pos }
func (s *FileSource) Size() int64                  { return s.size }
func (s *FileSource) LastAvailablePosition() int64 { return -1 }
func (s *FileSource) Eof() bool                    { return s.pos >= s.size }

// Close closes the underlying file when the source was created by OpenFile.
func (s *FileSource) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}
