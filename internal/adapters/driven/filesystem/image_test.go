package filesystem

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test ext2 layout, 1 KiB blocks: 1 superblock, 2 group descriptors,
// 5-8 inode table (32 inodes of 128 bytes), data from block 10.
const (
	testBlockSize   = 1024
	testBlocks      = 64
	testInodes      = 32
	testInodeTable  = 5
	testVolumeBytes = testBlocks * testBlockSize
)

type testInode struct {
	mode    uint16
	size    uint32
	links   uint16
	flags   uint32
	direct  []uint32
	single  uint32
	extents [][3]uint32 // logical, length, physical
}

type testDirent struct {
	inode uint32
	name  string
	ftype byte
}

// extBuilder writes a small ext2 (or extent-based ext4) volume.
type extBuilder struct {
	img []byte
	le  binary.ByteOrder
}

func newExtBuilder(incompat uint32) *extBuilder {
	b := &extBuilder{img: make([]byte, testVolumeBytes), le: binary.LittleEndian}

	sb := b.img[superblockOffset:]
	b.le.PutUint32(sb[0:], testInodes)
	b.le.PutUint32(sb[4:], testBlocks)
	b.le.PutUint32(sb[20:], 1) // first data block
	b.le.PutUint32(sb[24:], 0) // 1 KiB blocks
	b.le.PutUint32(sb[32:], 8192)
	b.le.PutUint32(sb[40:], testInodes)
	b.le.PutUint16(sb[56:], extMagic)
	b.le.PutUint32(sb[76:], 1)
	b.le.PutUint16(sb[88:], 128)
	b.le.PutUint32(sb[96:], incompatFiletype|incompat)

	gd := b.img[2*testBlockSize:]
	b.le.PutUint32(gd[8:], testInodeTable)
	return b
}

func (b *extBuilder) block(n uint32) []byte {
	return b.img[int(n)*testBlockSize : int(n+1)*testBlockSize]
}

func (b *extBuilder) inode(ino uint32, in testInode) {
	raw := b.img[testInodeTable*testBlockSize+int(ino-1)*128:]
	b.le.PutUint16(raw[0:], in.mode)
	b.le.PutUint32(raw[4:], in.size)
	b.le.PutUint16(raw[26:], in.links)
	b.le.PutUint32(raw[32:], in.flags)

	iblock := raw[40:100]
	if in.flags&inodeFlagExtents != 0 {
		b.le.PutUint16(iblock[0:], extentMagic)
		b.le.PutUint16(iblock[2:], uint16(len(in.extents)))
		b.le.PutUint16(iblock[4:], 4)
		for i, e := range in.extents {
			ee := iblock[12+12*i:]
			b.le.PutUint32(ee[0:], e[0])
			b.le.PutUint16(ee[4:], uint16(e[1]))
			b.le.PutUint32(ee[8:], e[2])
		}
		return
	}
	for i, blk := range in.direct {
		b.le.PutUint32(iblock[4*i:], blk)
	}
	b.le.PutUint32(iblock[48:], in.single)
}

func (b *extBuilder) dir(blk uint32, entries []testDirent) {
	buf := b.block(blk)
	pos := 0
	for i, e := range entries {
		recLen := (8 + len(e.name) + 3) &^ 3
		if i == len(entries)-1 {
			recLen = testBlockSize - pos
		}
		b.le.PutUint32(buf[pos:], e.inode)
		b.le.PutUint16(buf[pos+4:], uint16(recLen))
		buf[pos+6] = byte(len(e.name))
		buf[pos+7] = e.ftype
		copy(buf[pos+8:], e.name)
		pos += recLen
	}
}

func (b *extBuilder) pointers(blk uint32, ptrs ...uint32) {
	buf := b.block(blk)
	for i, p := range ptrs {
		b.le.PutUint32(buf[4*i:], p)
	}
}

// newTestExt builds the reference volume:
//
//	/            inode 2
//	/etc         inode 11
//	/etc/passwd  inode 13, extent mapped: blocks 20-21, 30
//	/hello.txt   inode 12, hard linked as /link.txt: blocks 12-13
//	/deleted     inode 14, no links
//	/big.bin     inode 15, 12 direct blocks 41-52 plus single indirect 54-55
func newTestExt() []byte {
	b := newExtBuilder(0)

	b.inode(2, testInode{mode: 0x41ED, size: testBlockSize, links: 3, direct: []uint32{10}})
	b.dir(10, []testDirent{
		{2, ".", direntTypeDir},
		{2, "..", direntTypeDir},
		{11, "etc", direntTypeDir},
		{12, "hello.txt", 1},
		{12, "link.txt", 1},
		{14, "deleted", 1},
		{15, "big.bin", 1},
	})

	b.inode(11, testInode{mode: 0x41ED, size: testBlockSize, links: 2, direct: []uint32{11}})
	b.dir(11, []testDirent{
		{11, ".", direntTypeDir},
		{2, "..", direntTypeDir},
		{13, "passwd", 1},
	})

	b.inode(12, testInode{mode: 0x81A4, size: 1500, links: 2, direct: []uint32{12, 13}})
	b.inode(13, testInode{
		mode: 0x81A4, size: 3 * testBlockSize, links: 1, flags: inodeFlagExtents,
		extents: [][3]uint32{{0, 2, 20}, {2, 1, 30}},
	})
	b.inode(14, testInode{mode: 0x81A4, size: 10, links: 0, direct: []uint32{40}})

	direct := make([]uint32, 12)
	for i := range direct {
		direct[i] = uint32(41 + i)
	}
	b.inode(15, testInode{mode: 0x81A4, size: 14 * testBlockSize, links: 1, direct: direct, single: 53})
	b.pointers(53, 54, 55)

	return b.img
}

// mbrEntry writes one partition entry into a boot record.
func putMBREntry(sector []byte, slot int, ptype byte, start, sectors uint32) {
	e := sector[446+16*slot:]
	e[4] = ptype
	binary.LittleEndian.PutUint32(e[8:], start)
	binary.LittleEndian.PutUint32(e[12:], sectors)
	sector[510], sector[511] = 0x55, 0xAA
}

// newTestMBRImage lays out:
//
//	/p1  LBA 4,   ext2 volume
//	/p2  LBA 132, NTFS boot sector without an MFT
//	     LBA 200, extended partition
//	/p3  LBA 202, logical partition without a known filesystem
func newTestMBRImage() []byte {
	img := make([]byte, 300*sectorSize)
	putMBREntry(img[0:], 0, 0x83, 4, testVolumeBytes/sectorSize)
	putMBREntry(img[0:], 1, 0x07, 132, 64)
	putMBREntry(img[0:], 2, 0x05, 200, 100)

	copy(img[4*sectorSize:], newTestExt())
	copy(img[132*sectorSize+3:], "NTFS    ")

	putMBREntry(img[200*sectorSize:], 0, 0x83, 2, 10)
	return img
}

func writeImage(t *testing.T, img []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "disk.dd")
	require.NoError(t, os.WriteFile(p, img, 0o600))
	return p
}
