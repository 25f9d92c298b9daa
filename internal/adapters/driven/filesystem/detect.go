package filesystem

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Filesystem type names as stored on volumes.
const (
	fsUnknown  = ""
	FSTypeExt  = "EXT"
	FSTypeNTFS = "NTFS"
	FSTypeFAT  = "FAT"
)

const extMagic = 0xEF53

// detectFS identifies the filesystem starting at offset.
func detectFS(r io.ReaderAt, offset int64) string {
	boot := make([]byte, sectorSize)
	if _, err := r.ReadAt(boot, offset); err == nil {
		switch {
		case bytes.Equal(boot[3:11], []byte("NTFS    ")):
			return FSTypeNTFS
		case bytes.HasPrefix(boot[54:62], []byte("FAT1")), bytes.HasPrefix(boot[82:90], []byte("FAT32")):
			return FSTypeFAT
		}
	}

	magic := make([]byte, 2)
	if _, err := r.ReadAt(magic, offset+superblockOffset+56); err == nil &&
		binary.LittleEndian.Uint16(magic) == extMagic {
		return FSTypeExt
	}
	return fsUnknown
}
