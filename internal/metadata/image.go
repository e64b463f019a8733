// Package metadata reads and resolves ECMA-335 metadata from a compiled
// assembly image.
package metadata

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"os"
	"unicode/utf16"
)

// The optional-header data directory slot holding the CLI header.
const comDescriptorDirectory = 14

// SectionMappingError reports a virtual address that no section of the image
// covers. Mapping failures abort the current method or field, not the run,
// unless the unmapped address belongs to the metadata root itself.
type SectionMappingError struct {
	Address uint32
}

func (e *SectionMappingError) Error() string {
	return fmt.Sprintf("address 0x%x not within any section's address range", e.Address)
}

// Image is a loaded assembly with its metadata streams located. All reads are
// served from an in-memory copy of the file.
type Image struct {
	data     []byte
	sections []pe.SectionHeader

	version string
	tables  []byte // the "#~" stream
	strings []byte
	us      []byte
	guids   []byte
	blobs   []byte
}

// OpenImage reads an assembly from disk and locates its metadata streams.
func OpenImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read image: %w", err)
	}

	peFile, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not parse image: %w", err)
	}
	defer peFile.Close()

	img := &Image{data: data}
	for _, section := range peFile.Sections {
		img.sections = append(img.sections, section.SectionHeader)
	}

	cliDirectory, err := dataDirectory(peFile, comDescriptorDirectory)
	if err != nil {
		return nil, err
	}
	if cliDirectory.VirtualAddress == 0 {
		return nil, fmt.Errorf("image has no CLI header")
	}

	if err := img.locateStreams(cliDirectory.VirtualAddress); err != nil {
		return nil, err
	}

	return img, nil
}

func dataDirectory(peFile *pe.File, index int) (pe.DataDirectory, error) {
	switch header := peFile.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		return header.DataDirectory[index], nil
	case *pe.OptionalHeader64:
		return header.DataDirectory[index], nil
	default:
		return pe.DataDirectory{}, fmt.Errorf("image has no optional header")
	}
}

// MapAddressToOffset translates a virtual address to a file offset through a
// linear scan of the section table.
func (img *Image) MapAddressToOffset(rva uint32) (uint32, error) {
	for _, section := range img.sections {
		size := section.VirtualSize
		if size == 0 {
			size = section.Size
		}
		if section.VirtualAddress <= rva && rva < section.VirtualAddress+size {
			return rva - section.VirtualAddress + section.Offset, nil
		}
	}
	return 0, &SectionMappingError{Address: rva}
}

// ReadAt returns size bytes of raw image data starting at a file offset.
func (img *Image) ReadAt(offset, size uint32) ([]byte, error) {
	end := uint64(offset) + uint64(size)
	if end > uint64(len(img.data)) {
		return nil, fmt.Errorf("read of %d bytes at offset 0x%x runs past end of image", size, offset)
	}
	return img.data[offset:end], nil
}

func (img *Image) locateStreams(cliHeaderRVA uint32) error {
	cliOffset, err := img.MapAddressToOffset(cliHeaderRVA)
	if err != nil {
		return fmt.Errorf("could not map CLI header: %w", err)
	}

	// The CLI header stores the metadata root's address at byte 8.
	header, err := img.ReadAt(cliOffset, 16)
	if err != nil {
		return err
	}
	metadataRVA := binary.LittleEndian.Uint32(header[8:])
	metadataSize := binary.LittleEndian.Uint32(header[12:])

	rootOffset, err := img.MapAddressToOffset(metadataRVA)
	if err != nil {
		return fmt.Errorf("could not map metadata root: %w", err)
	}
	root, err := img.ReadAt(rootOffset, metadataSize)
	if err != nil {
		return err
	}

	return img.parseMetadataRoot(root)
}

// metadataSignature marks the start of the metadata root ("BSJB").
const metadataSignature = 0x424A5342

func (img *Image) parseMetadataRoot(root []byte) error {
	if len(root) < 20 {
		return fmt.Errorf("metadata root is truncated")
	}
	if binary.LittleEndian.Uint32(root) != metadataSignature {
		return fmt.Errorf("metadata root has bad signature 0x%x", binary.LittleEndian.Uint32(root))
	}

	versionLength := binary.LittleEndian.Uint32(root[12:])
	if uint64(16+versionLength+4) > uint64(len(root)) {
		return fmt.Errorf("metadata root is truncated")
	}
	img.version = string(bytes.TrimRight(root[16:16+versionLength], "\x00"))

	pos := 16 + int(versionLength)
	streamCount := binary.LittleEndian.Uint16(root[pos+2:])
	pos += 4

	for i := 0; i < int(streamCount); i++ {
		if pos+8 > len(root) {
			return fmt.Errorf("stream header %d is truncated", i)
		}
		streamOffset := binary.LittleEndian.Uint32(root[pos:])
		streamSize := binary.LittleEndian.Uint32(root[pos+4:])
		pos += 8

		nameEnd := bytes.IndexByte(root[pos:], 0)
		if nameEnd < 0 {
			return fmt.Errorf("stream header %d has unterminated name", i)
		}
		name := string(root[pos : pos+nameEnd])
		// Names are null-terminated and padded to a 4-byte boundary.
		pos += (nameEnd + 4) &^ 3

		if uint64(streamOffset)+uint64(streamSize) > uint64(len(root)) {
			return fmt.Errorf("stream %q runs past end of metadata", name)
		}
		stream := root[streamOffset : streamOffset+streamSize]

		switch name {
		case "#~", "#-":
			img.tables = stream
		case "#Strings":
			img.strings = stream
		case "#US":
			img.us = stream
		case "#GUID":
			img.guids = stream
		case "#Blob":
			img.blobs = stream
		}
	}

	if img.tables == nil {
		return fmt.Errorf("image has no metadata table stream")
	}
	return nil
}

// Version returns the runtime version string recorded in the metadata root.
func (img *Image) Version() string {
	return img.version
}

// stringAt reads a null-terminated string from the string heap.
func (img *Image) stringAt(offset uint32) string {
	if offset >= uint32(len(img.strings)) {
		return ""
	}
	end := bytes.IndexByte(img.strings[offset:], 0)
	if end < 0 {
		return ""
	}
	return string(img.strings[offset : offset+uint32(end)])
}

// blobAt reads a length-prefixed blob from the blob heap.
func (img *Image) blobAt(offset uint32) ([]byte, error) {
	if offset >= uint32(len(img.blobs)) {
		return nil, fmt.Errorf("blob offset 0x%x runs past end of heap", offset)
	}
	length, n, err := compressedUint(img.blobs[offset:])
	if err != nil {
		return nil, fmt.Errorf("bad blob header at 0x%x: %w", offset, err)
	}
	start := offset + uint32(n)
	if uint64(start)+uint64(length) > uint64(len(img.blobs)) {
		return nil, fmt.Errorf("blob at 0x%x runs past end of heap", offset)
	}
	return img.blobs[start : start+length], nil
}

// userStringAt reads a length-prefixed UTF-16 literal from the "#US" heap.
// The trailing terminal byte the format appends is dropped.
func (img *Image) userStringAt(offset uint32) (string, error) {
	if offset >= uint32(len(img.us)) {
		return "", fmt.Errorf("user string offset 0x%x runs past end of heap", offset)
	}
	length, n, err := compressedUint(img.us[offset:])
	if err != nil {
		return "", fmt.Errorf("bad user string header at 0x%x: %w", offset, err)
	}
	start := offset + uint32(n)
	if uint64(start)+uint64(length) > uint64(len(img.us)) {
		return "", fmt.Errorf("user string at 0x%x runs past end of heap", offset)
	}
	data := img.us[start : start+length]
	units := make([]uint16, 0, length/2)
	for i := 0; i+1 < int(length); i += 2 {
		units = append(units, binary.LittleEndian.Uint16(data[i:]))
	}
	return string(utf16.Decode(units)), nil
}

// compressedUint decodes the variable-width unsigned integer encoding used by
// blob headers and signatures. It returns the value and the bytes consumed.
func compressedUint(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("empty input")
	}
	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1, nil
	case b[0]&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, fmt.Errorf("truncated 2-byte value")
		}
		return uint32(b[0]&0x3F)<<8 | uint32(b[1]), 2, nil
	case b[0]&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0, fmt.Errorf("truncated 4-byte value")
		}
		return uint32(b[0]&0x1F)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	default:
		return 0, 0, fmt.Errorf("bad length prefix 0x%x", b[0])
	}
}
