package filesystem

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

const sectorSize = 512

// MBR partition types that hold an extended partition chain.
var extendedTypes = map[byte]bool{0x05: true, 0x0F: true, 0x85: true}

const (
	gptProtectiveType = 0xEE
	maxLogical        = 128
	maxGPTEntries     = 1024
)

var gptSignature = []byte("EFI PART")

// partition is a byte range of the image holding one volume.
type partition struct {
	offset int64
	size   int64
}

type mbrEntry struct {
	status  byte
	ptype   byte
	start   uint32
	sectors uint32
}

func parseMBREntries(sector []byte) [4]mbrEntry {
	var entries [4]mbrEntry
	for i := range entries {
		e := sector[446+16*i:]
		entries[i] = mbrEntry{
			status:  e[0],
			ptype:   e[4],
			start:   binary.LittleEndian.Uint32(e[8:]),
			sectors: binary.LittleEndian.Uint32(e[12:]),
		}
	}
	return entries
}

func readSector(r io.ReaderAt, lba int64) ([]byte, error) {
	buf := make([]byte, sectorSize)
	if _, err := r.ReadAt(buf, lba*sectorSize); err != nil {
		return nil, fmt.Errorf("read sector %d: %w", lba, err)
	}
	return buf, nil
}

func hasBootSignature(sector []byte) bool {
	return sector[510] == 0x55 && sector[511] == 0xAA
}

// readPartitions lists the partitions of an image ordered by offset.
// An image without a recognisable table is one volume spanning the
// whole image, reported as a single partition with size zero.
func readPartitions(r io.ReaderAt, imageSize int64) ([]partition, error) {
	whole := []partition{{offset: 0, size: 0}}

	if imageSize < sectorSize {
		return whole, nil
	}
	// A filesystem at offset zero may carry the boot signature itself.
	if detectFS(r, 0) != fsUnknown {
		return whole, nil
	}

	mbr, err := readSector(r, 0)
	if err != nil {
		return nil, err
	}
	if !hasBootSignature(mbr) {
		return whole, nil
	}

	entries := parseMBREntries(mbr)
	for _, e := range entries {
		if e.ptype == gptProtectiveType {
			parts, err := readGPT(r, imageSize)
			if err != nil {
				return nil, err
			}
			return orWhole(parts), nil
		}
	}

	var parts []partition
	for _, e := range entries {
		if e.ptype == 0 || e.sectors == 0 {
			continue
		}
		if (e.status != 0x00 && e.status != 0x80) || int64(e.start)*sectorSize >= imageSize {
			// Not a partition table.
			return whole, nil
		}
		if extendedTypes[e.ptype] {
			logical, err := readExtended(r, int64(e.start), imageSize)
			if err != nil {
				return nil, err
			}
			parts = append(parts, logical...)
			continue
		}
		parts = append(parts, partition{
			offset: int64(e.start) * sectorSize,
			size:   int64(e.sectors) * sectorSize,
		})
	}

	return orWhole(parts), nil
}

// readExtended follows the chain of extended boot records starting at
// the extended partition's first sector.
func readExtended(r io.ReaderAt, extStart, imageSize int64) ([]partition, error) {
	var parts []partition
	seen := make(map[int64]bool)

	for ebr := extStart; len(parts) < maxLogical && !seen[ebr]; {
		seen[ebr] = true
		if ebr*sectorSize >= imageSize {
			break
		}
		sector, err := readSector(r, ebr)
		if err != nil {
			return nil, err
		}
		if !hasBootSignature(sector) {
			break
		}

		entries := parseMBREntries(sector)
		if e := entries[0]; e.ptype != 0 && e.sectors != 0 {
			parts = append(parts, partition{
				offset: (ebr + int64(e.start)) * sectorSize,
				size:   int64(e.sectors) * sectorSize,
			})
		}

		next := entries[1]
		if !extendedTypes[next.ptype] || next.start == 0 {
			break
		}
		ebr = extStart + int64(next.start)
	}

	return parts, nil
}

// readGPT parses the primary GUID partition table.
func readGPT(r io.ReaderAt, imageSize int64) ([]partition, error) {
	header, err := readSector(r, 1)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(header[:8], gptSignature) {
		return nil, nil
	}

	entriesLBA := int64(binary.LittleEndian.Uint64(header[72:]))
	count := binary.LittleEndian.Uint32(header[80:])
	entrySize := binary.LittleEndian.Uint32(header[84:])
	if entrySize < 128 || count > maxGPTEntries || entriesLBA*sectorSize >= imageSize {
		return nil, fmt.Errorf("invalid GPT header: %d entries of %d bytes at LBA %d", count, entrySize, entriesLBA)
	}

	table := make([]byte, int64(count)*int64(entrySize))
	if _, err := r.ReadAt(table, entriesLBA*sectorSize); err != nil {
		return nil, fmt.Errorf("read GPT entries: %w", err)
	}

	var zeroGUID [16]byte
	var parts []partition
	for i := uint32(0); i < count; i++ {
		e := table[i*entrySize:]
		if bytes.Equal(e[:16], zeroGUID[:]) {
			continue
		}
		first := int64(binary.LittleEndian.Uint64(e[32:])) //nolint:gosec // bounded by image size below
		last := int64(binary.LittleEndian.Uint64(e[40:]))  //nolint:gosec // see above
		if first <= 0 || last < first || first*sectorSize >= imageSize {
			continue
		}
		parts = append(parts, partition{
			offset: first * sectorSize,
			size:   (last - first + 1) * sectorSize,
		})
	}
	return parts, nil
}

func orWhole(parts []partition) []partition {
	if len(parts) == 0 {
		return []partition{{offset: 0, size: 0}}
	}
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].offset < parts[j].offset })
	return parts
}
