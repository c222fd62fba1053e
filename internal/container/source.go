package container

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrTruncated is returned when the image has fewer bytes than a read requires
var ErrTruncated = errors.New("truncated image")

// Source is an addressable, immutable byte source
type Source interface {
	io.ReaderAt
	Size() int64
}

// ReadExact reads exactly n bytes at absolute offset off.
// Short sources fail with ErrTruncated before anything is allocated.
func ReadExact(src Source, off, n int64) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("invalid range offset=%d len=%d", off, n)
	}
	if size := src.Size(); off > size || n > size-off {
		return nil, fmt.Errorf("%w: need %d bytes at offset %#x, image has %d", ErrTruncated, n, off, size)
	}

	buf := make([]byte, n)
	read, err := src.ReadAt(buf, off)
	if int64(read) == n {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: read %d of %d bytes at offset %#x", ErrTruncated, read, n, off)
	}
	return nil, fmt.Errorf("failed to read image at offset %#x: %w", off, err)
}

// FileSource is a Source backed by an open file
type FileSource struct {
	file *os.File
	size int64
}

// OpenFile opens path as a read-only Source
func OpenFile(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("image path %s is a directory", path)
	}

	return &FileSource{file: file, size: info.Size()}, nil
}

func (f *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return f.file.ReadAt(p, off)
}

func (f *FileSource) Size() int64 {
	return f.size
}

// Name returns the underlying file name
func (f *FileSource) Name() string {
	return f.file.Name()
}

func (f *FileSource) Close() error {
	return f.file.Close()
}

// BytesSource is an in-memory Source
type BytesSource []byte

func (b BytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b BytesSource) Size() int64 {
	return int64(len(b))
}
