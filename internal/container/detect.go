// Package container locates the payload inside an image file.
//
// An image is either a bare NCCH partition or an NCSD container that embeds
// NCCH partitions at offsets listed in its header. The magic of both formats
// sits at byte 0x100 of the first header block.
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog/log"
)

const (
	// HeaderSize is the size of the block submitted first
	HeaderSize = 0x200

	// ContainerPayloadOffset is where the first NCSD partition starts
	ContainerPayloadOffset = 0x4000

	// MediaUnit is the unit of NCSD partition offsets and sizes
	MediaUnit = 0x200

	magicOffset          = 0x100
	partitionTableOffset = 0x120
	partitionCount       = 8
)

var (
	magicNCSD = []byte("NCSD")
	magicNCCH = []byte("NCCH")
)

// Format identifies the outer layout of an image
type Format int

const (
	FormatUnknown Format = iota
	FormatNCCH
	FormatNCSD
)

func (f Format) String() string {
	switch f {
	case FormatNCCH:
		return "NCCH"
	case FormatNCSD:
		return "NCSD"
	default:
		return "unknown"
	}
}

// Layout is the result of detection: where the payload starts and its header block
type Layout struct {
	Format     Format
	BaseOffset int64
	Header     []byte
}

// Detect inspects the first header block and resolves the payload base offset.
// An image without the container magic is treated as a bare payload at offset 0.
func Detect(src Source) (*Layout, error) {
	header, err := ReadExact(src, 0, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	format := formatOf(header)
	if format != FormatNCSD {
		if format == FormatUnknown {
			log.Warn().Hex("magic", header[magicOffset:magicOffset+4]).Msg("unrecognized image magic, treating as bare payload")
		}
		return &Layout{Format: format, BaseOffset: 0, Header: header}, nil
	}

	layout, err := LayoutAt(src, ContainerPayloadOffset)
	if err != nil {
		return nil, fmt.Errorf("failed to read container payload header: %w", err)
	}
	layout.Format = FormatNCSD

	log.Debug().
		Str("format", layout.Format.String()).
		Int64("base_offset", layout.BaseOffset).
		Msg("container detected")

	return layout, nil
}

// LayoutAt reads the header block of a payload starting at base
func LayoutAt(src Source, base int64) (*Layout, error) {
	header, err := ReadExact(src, base, HeaderSize)
	if err != nil {
		return nil, err
	}
	return &Layout{Format: formatOf(header), BaseOffset: base, Header: header}, nil
}

func formatOf(header []byte) Format {
	magic := header[magicOffset : magicOffset+4]
	switch {
	case bytes.Equal(magic, magicNCSD):
		return FormatNCSD
	case bytes.Equal(magic, magicNCCH):
		return FormatNCCH
	default:
		return FormatUnknown
	}
}

var partitionNames = [partitionCount]string{
	"Executable",
	"E-Manual",
	"Download Play child",
	"Partition 3",
	"Partition 4",
	"Partition 5",
	"N3DS system update",
	"System update",
}

// Partition is one payload embedded in an image
type Partition struct {
	Index  int
	Name   string
	Size   int64
	Layout *Layout
}

// Partitions lists every payload of an image. A container yields each
// non-empty entry of its partition table; anything else yields a single
// standalone payload at offset 0.
func Partitions(src Source) ([]Partition, error) {
	header, err := ReadExact(src, 0, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	if formatOf(header) != FormatNCSD {
		layout, err := Detect(src)
		if err != nil {
			return nil, err
		}
		return []Partition{{Index: 0, Name: "Standalone NCCH", Size: src.Size(), Layout: layout}}, nil
	}

	table := header[partitionTableOffset : partitionTableOffset+partitionCount*8]
	var parts []Partition
	for i := 0; i < partitionCount; i++ {
		entry := table[i*8 : i*8+8]
		offset := int64(binary.LittleEndian.Uint32(entry[0:4])) * MediaUnit
		size := int64(binary.LittleEndian.Uint32(entry[4:8])) * MediaUnit
		if offset == 0 {
			continue
		}

		layout, err := LayoutAt(src, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to read partition %d (%s) header: %w", i, partitionNames[i], err)
		}
		layout.Format = FormatNCSD

		parts = append(parts, Partition{Index: i, Name: partitionNames[i], Size: size, Layout: layout})
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("container has an empty partition table")
	}

	log.Debug().Int("partitions", len(parts)).Msg("container partition table parsed")
	return parts, nil
}
