package container

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// patterned returns n bytes where every byte depends on its position
func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func withMagic(b []byte, magic string) []byte {
	copy(b[magicOffset:], magic)
	return b
}

func setPartition(b []byte, index int, offset, size uint32) {
	entry := b[partitionTableOffset+index*8:]
	binary.LittleEndian.PutUint32(entry[0:4], offset/MediaUnit)
	binary.LittleEndian.PutUint32(entry[4:8], size/MediaUnit)
}

func TestDetect(t *testing.T) {
	ncsd := withMagic(patterned(ContainerPayloadOffset+0x1000), "NCSD")
	copy(ncsd[ContainerPayloadOffset+magicOffset:], "NCCH")

	tests := []struct {
		name       string
		image      []byte
		format     Format
		baseOffset int64
	}{
		{
			name:       "bare ncch",
			image:      withMagic(patterned(0x800), "NCCH"),
			format:     FormatNCCH,
			baseOffset: 0,
		},
		{
			name:       "unknown magic is a bare payload",
			image:      withMagic(patterned(0x200), "ABCD"),
			format:     FormatUnknown,
			baseOffset: 0,
		},
		{
			name:       "ncsd container",
			image:      ncsd,
			format:     FormatNCSD,
			baseOffset: ContainerPayloadOffset,
		},
		{
			name:       "ncsd exactly long enough",
			image:      ncsd[:ContainerPayloadOffset+HeaderSize],
			format:     FormatNCSD,
			baseOffset: ContainerPayloadOffset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout, err := Detect(BytesSource(tt.image))
			require.NoError(t, err)

			assert.Equal(t, tt.format, layout.Format)
			assert.Equal(t, tt.baseOffset, layout.BaseOffset)
			assert.Equal(t, tt.image[tt.baseOffset:tt.baseOffset+HeaderSize], layout.Header)
		})
	}
}

func TestDetect_Truncated(t *testing.T) {
	tests := []struct {
		name  string
		image []byte
	}{
		{name: "empty", image: nil},
		{name: "short header", image: patterned(HeaderSize - 1)},
		{name: "container without payload", image: withMagic(patterned(HeaderSize), "NCSD")},
		{name: "container with short payload header", image: withMagic(patterned(ContainerPayloadOffset+HeaderSize-1), "NCSD")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout, err := Detect(BytesSource(tt.image))
			assert.Nil(t, layout)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTruncated), "expected ErrTruncated, got %v", err)
		})
	}
}

func TestPartitions(t *testing.T) {
	image := withMagic(patterned(0x10000), "NCSD")
	for i := 0; i < partitionCount; i++ {
		setPartition(image, i, 0, 0)
	}
	setPartition(image, 0, 0x4000, 0x8000)
	setPartition(image, 1, 0xC000, 0x2000)
	setPartition(image, 7, 0xE000, 0x2000)

	parts, err := Partitions(BytesSource(image))
	require.NoError(t, err)
	require.Len(t, parts, 3)

	assert.Equal(t, "Executable", parts[0].Name)
	assert.Equal(t, int64(0x4000), parts[0].Layout.BaseOffset)
	assert.Equal(t, int64(0x8000), parts[0].Size)
	assert.Equal(t, image[0x4000:0x4200], parts[0].Layout.Header)

	assert.Equal(t, "E-Manual", parts[1].Name)
	assert.Equal(t, int64(0xC000), parts[1].Layout.BaseOffset)

	assert.Equal(t, 7, parts[2].Index)
	assert.Equal(t, "System update", parts[2].Name)
	assert.Equal(t, image[0xE000:0xE200], parts[2].Layout.Header)
}

func TestPartitions_Standalone(t *testing.T) {
	image := withMagic(patterned(0x400), "NCCH")

	parts, err := Partitions(BytesSource(image))
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "Standalone NCCH", parts[0].Name)
	assert.Equal(t, int64(0), parts[0].Layout.BaseOffset)
	assert.Equal(t, int64(0x400), parts[0].Size)
}

func TestPartitions_Errors(t *testing.T) {
	empty := withMagic(patterned(0x1000), "NCSD")
	for i := 0; i < partitionCount; i++ {
		setPartition(empty, i, 0, 0)
	}
	_, err := Partitions(BytesSource(empty))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty partition table")

	beyond := withMagic(patterned(0x1000), "NCSD")
	for i := 0; i < partitionCount; i++ {
		setPartition(beyond, i, 0, 0)
	}
	setPartition(beyond, 2, 0x8000, 0x200)
	_, err = Partitions(BytesSource(beyond))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTruncated))
	assert.Contains(t, err.Error(), "Download Play child")
}

func TestReadExact(t *testing.T) {
	src := BytesSource(patterned(64))

	data, err := ReadExact(src, 8, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte(src[8:24]), data)

	data, err = ReadExact(src, 64, 0)
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = ReadExact(src, 60, 8)
	assert.True(t, errors.Is(err, ErrTruncated))

	_, err = ReadExact(src, 65, 0)
	assert.True(t, errors.Is(err, ErrTruncated))

	_, err = ReadExact(src, -1, 4)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTruncated))
}

type failingSource struct{ size int64 }

func (f failingSource) ReadAt(p []byte, off int64) (int, error) {
	return 0, io.ErrClosedPipe
}

func (f failingSource) Size() int64 { return f.size }

func TestReadExact_IOError(t *testing.T) {
	_, err := ReadExact(failingSource{size: 1024}, 0, HeaderSize)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTruncated))
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.cci")
	image := withMagic(patterned(0x4400), "NCSD")
	require.NoError(t, os.WriteFile(path, image, 0644))

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, int64(len(image)), src.Size())
	assert.Equal(t, path, src.Name())

	layout, err := Detect(src)
	require.NoError(t, err)
	assert.Equal(t, int64(ContainerPayloadOffset), layout.BaseOffset)

	_, err = OpenFile(filepath.Join(dir, "missing.cci"))
	assert.Error(t, err)

	_, err = OpenFile(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}
