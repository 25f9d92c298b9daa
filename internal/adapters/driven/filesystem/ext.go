package filesystem

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/RoaringBitmap/roaring"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
)

// Ext2/3/4 on-disk constants, from the kernel's ext4 disk layout.
const (
	superblockOffset = 1024
	superblockSize   = 1024
	rootInode        = 2

	incompatFiletype = 0x2
	incompat64Bit    = 0x80

	roCompatGDTCsum      = 0x10
	roCompatMetadataCsum = 0x400

	bgInodeUninit = 0x1

	inodeFlagExtents    = 0x80000
	inodeFlagInlineData = 0x10000000

	modeTypeMask = 0xF000
	modeDir      = 0x4000
	modeRegular  = 0x8000

	direntTypeDir = 2

	extentMagic    = 0xF30A
	maxExtentDepth = 5

	// maxDirSize bounds how much of a directory is read into memory.
	maxDirSize = 64 << 20
)

var errCorrupt = errors.New("corrupt ext filesystem")

// extFS reads one ext2/3/4 volume of an image.
type extFS struct {
	r    io.ReaderAt
	base int64

	blockSize      int64
	blocksCount    uint64
	inodesCount    uint32
	inodesPerGroup uint32
	inodeSize      int64
	descSize       int64
	gdtBlock       int64
	filetype       bool
	// uninitGroups is set when group descriptors carry valid INODE_UNINIT flags.
	uninitGroups bool
}

type extInode struct {
	mode  uint16
	size  int64
	links uint16
	flags uint32
	block [60]byte
}

func (in *extInode) isDir() bool     { return in.mode&modeTypeMask == modeDir }
func (in *extInode) isRegular() bool { return in.mode&modeTypeMask == modeRegular }

// run maps count consecutive logical blocks to physical blocks.
type run struct {
	logical  uint64
	physical uint64
	count    uint64
}

func openExt(r io.ReaderAt, base int64) (*extFS, error) {
	sb := make([]byte, superblockSize)
	if _, err := r.ReadAt(sb, base+superblockOffset); err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	le := binary.LittleEndian
	if le.Uint16(sb[56:]) != extMagic {
		return nil, fmt.Errorf("%w: bad superblock magic", errCorrupt)
	}

	logBlockSize := le.Uint32(sb[24:])
	if logBlockSize > 6 {
		return nil, fmt.Errorf("%w: block size 2^%d", errCorrupt, 10+logBlockSize)
	}

	fs := &extFS{
		r:              r,
		base:           base,
		blockSize:      1024 << logBlockSize,
		blocksCount:    uint64(le.Uint32(sb[4:])),
		inodesCount:    le.Uint32(sb[0:]),
		inodesPerGroup: le.Uint32(sb[40:]),
		inodeSize:      128,
		descSize:       32,
		gdtBlock:       int64(le.Uint32(sb[20:])) + 1,
	}
	if fs.inodesPerGroup == 0 || fs.inodesCount == 0 {
		return nil, fmt.Errorf("%w: no inodes", errCorrupt)
	}

	if le.Uint32(sb[76:]) >= 1 {
		fs.inodeSize = int64(le.Uint16(sb[88:]))
		if fs.inodeSize < 128 {
			return nil, fmt.Errorf("%w: inode size %d", errCorrupt, fs.inodeSize)
		}
	}

	roCompat := le.Uint32(sb[100:])
	fs.uninitGroups = roCompat&(roCompatGDTCsum|roCompatMetadataCsum) != 0

	incompat := le.Uint32(sb[96:])
	fs.filetype = incompat&incompatFiletype != 0
	if incompat&incompat64Bit != 0 {
		fs.blocksCount |= uint64(le.Uint32(sb[0x150:])) << 32
		if ds := int64(le.Uint16(sb[0xFE:])); ds >= 64 {
			fs.descSize = ds
		}
	}

	return fs, nil
}

func (fs *extFS) readBlocks(physical, count uint64) ([]byte, error) {
	buf := make([]byte, int64(count)*fs.blockSize) //nolint:gosec // count is bounded by the caller
	off := fs.base + int64(physical)*fs.blockSize  //nolint:gosec // physical < blocksCount
	if _, err := fs.r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read block %d: %w", physical, err)
	}
	return buf, nil
}

// groupDesc returns the inode table block and the flags of a block group.
func (fs *extFS) groupDesc(group uint32) (uint64, uint16, error) {
	desc := make([]byte, fs.descSize)
	off := fs.base + fs.gdtBlock*fs.blockSize + int64(group)*fs.descSize
	if _, err := fs.r.ReadAt(desc, off); err != nil {
		return 0, 0, fmt.Errorf("read group descriptor %d: %w", group, err)
	}
	le := binary.LittleEndian
	table := uint64(le.Uint32(desc[8:]))
	if fs.descSize >= 64 {
		table |= uint64(le.Uint32(desc[0x28:])) << 32
	}
	return table, le.Uint16(desc[0x12:]), nil
}

func (fs *extFS) readInode(ino uint32) (*extInode, error) {
	if ino == 0 || ino > fs.inodesCount {
		return nil, fmt.Errorf("%w: inode %d out of range", errCorrupt, ino)
	}
	group := (ino - 1) / fs.inodesPerGroup
	index := int64((ino - 1) % fs.inodesPerGroup)

	table, _, err := fs.groupDesc(group)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 128)
	off := fs.base + int64(table)*fs.blockSize + index*fs.inodeSize //nolint:gosec // table < blocksCount
	if _, err := fs.r.ReadAt(raw, off); err != nil {
		return nil, fmt.Errorf("read inode %d: %w", ino, err)
	}
	return parseInode(raw), nil
}

func parseInode(raw []byte) *extInode {
	le := binary.LittleEndian
	in := &extInode{
		mode:  le.Uint16(raw[0:]),
		size:  int64(uint64(le.Uint32(raw[4:])) | uint64(le.Uint32(raw[108:]))<<32), //nolint:gosec // sizes fit in int64
		links: le.Uint16(raw[26:]),
		flags: le.Uint32(raw[32:]),
	}
	copy(in.block[:], raw[40:100])
	return in
}

// runs returns the block runs holding an inode's data.
func (fs *extFS) runs(in *extInode) ([]run, error) {
	if in.flags&inodeFlagInlineData != 0 || in.size == 0 {
		return nil, nil
	}

	nblocks := uint64((in.size + fs.blockSize - 1) / fs.blockSize) //nolint:gosec // size is non-negative
	m := &runMapper{fs: fs, limit: nblocks}

	if in.flags&inodeFlagExtents != 0 {
		if err := m.extentNode(in.block[:], 0); err != nil {
			return nil, err
		}
		return m.runs, nil
	}

	ptrs := uint64(fs.blockSize / 4) //nolint:gosec // block size is positive
	for i := 0; i < 12; i++ {
		m.add(uint64(i), uint64(binary.LittleEndian.Uint32(in.block[4*i:])), 1)
	}
	logical := uint64(12)
	span := ptrs
	for level := 1; level <= 3; level++ {
		ptr := binary.LittleEndian.Uint32(in.block[4*(11+level):])
		if err := m.indirect(uint64(ptr), level, logical); err != nil {
			return nil, err
		}
		logical += span
		span *= ptrs
	}
	return m.runs, nil
}

// runMapper collects coalesced runs for the first limit logical blocks.
type runMapper struct {
	fs    *extFS
	limit uint64
	runs  []run
}

func (m *runMapper) add(logical, physical, count uint64) {
	if physical == 0 || logical >= m.limit {
		return
	}
	if logical+count > m.limit {
		count = m.limit - logical
	}
	if physical+count > m.fs.blocksCount {
		return
	}
	if n := len(m.runs); n > 0 {
		last := &m.runs[n-1]
		if last.logical+last.count == logical && last.physical+last.count == physical {
			last.count += count
			return
		}
	}
	m.runs = append(m.runs, run{logical: logical, physical: physical, count: count})
}

// indirect walks a classic block map pointer block. level 1 holds data
// block pointers, higher levels point to lower pointer blocks.
func (m *runMapper) indirect(physical uint64, level int, logical uint64) error {
	if physical == 0 || logical >= m.limit || physical >= m.fs.blocksCount {
		return nil
	}
	buf, err := m.fs.readBlocks(physical, 1)
	if err != nil {
		return err
	}

	ptrs := uint64(m.fs.blockSize / 4) //nolint:gosec // block size is positive
	span := uint64(1)
	for i := 1; i < level; i++ {
		span *= ptrs
	}

	for i := uint64(0); i < ptrs; i++ {
		child := uint64(binary.LittleEndian.Uint32(buf[4*i:]))
		at := logical + i*span
		if at >= m.limit {
			break
		}
		if level == 1 {
			m.add(at, child, 1)
			continue
		}
		if err := m.indirect(child, level-1, at); err != nil {
			return err
		}
	}
	return nil
}

// extentNode walks one node of an ext4 extent tree.
func (m *runMapper) extentNode(node []byte, level int) error {
	le := binary.LittleEndian
	if len(node) < 12 || le.Uint16(node[0:]) != extentMagic {
		return fmt.Errorf("%w: bad extent header", errCorrupt)
	}
	entries := int(le.Uint16(node[2:]))
	depth := int(le.Uint16(node[6:]))
	if level > maxExtentDepth || 12+12*entries > len(node) {
		return fmt.Errorf("%w: extent node out of bounds", errCorrupt)
	}

	for i := 0; i < entries; i++ {
		e := node[12+12*i:]
		if depth == 0 {
			length := uint64(le.Uint16(e[4:]))
			if length > 32768 {
				// Uninitialised extent; the blocks still belong to the file.
				length -= 32768
			}
			physical := uint64(le.Uint16(e[6:]))<<32 | uint64(le.Uint32(e[8:]))
			m.add(uint64(le.Uint32(e[0:])), physical, length)
			continue
		}

		leaf := uint64(le.Uint32(e[4:])) | uint64(le.Uint16(e[8:]))<<32
		if leaf == 0 || leaf >= m.fs.blocksCount {
			return fmt.Errorf("%w: extent index points outside the volume", errCorrupt)
		}
		child, err := m.fs.readBlocks(leaf, 1)
		if err != nil {
			return err
		}
		if err := m.extentNode(child, level+1); err != nil {
			return err
		}
	}
	return nil
}

type dirent struct {
	inode uint32
	name  string
	isDir bool
	typed bool
}

func (fs *extFS) readDir(in *extInode) ([]dirent, error) {
	if in.size > maxDirSize {
		return nil, fmt.Errorf("%w: directory of %d bytes", errCorrupt, in.size)
	}
	runs, err := fs.runs(in)
	if err != nil {
		return nil, err
	}

	data := make([]byte, in.size)
	for _, r := range runs {
		buf, err := fs.readBlocks(r.physical, r.count)
		if err != nil {
			return nil, err
		}
		at := int64(r.logical) * fs.blockSize //nolint:gosec // bounded by size
		if at < int64(len(data)) {
			copy(data[at:], buf)
		}
	}

	var entries []dirent
	le := binary.LittleEndian
	for blk := int64(0); blk < int64(len(data)); blk += fs.blockSize {
		block := data[blk:min(blk+fs.blockSize, int64(len(data)))]
		for pos := 0; pos+8 <= len(block); {
			ino := le.Uint32(block[pos:])
			recLen := int(le.Uint16(block[pos+4:]))
			nameLen := int(block[pos+6])
			if !fs.filetype {
				nameLen = int(le.Uint16(block[pos+6:]))
			}
			if recLen < 8 || pos+recLen > len(block) || 8+nameLen > recLen {
				break
			}
			if ino != 0 && nameLen > 0 {
				entries = append(entries, dirent{
					inode: ino,
					name:  string(block[pos+8 : pos+8+nameLen]),
					isDir: fs.filetype && block[pos+7] == direntTypeDir,
					typed: fs.filetype,
				})
			}
			pos += recLen
		}
	}
	return entries, nil
}

// walk lists every allocated regular file and directory. Those reachable
// from the root come first; a hard-linked inode is reported once with all
// its names. Allocated inodes no directory reaches, such as orphans and the
// journal, follow under /$OrphanFiles.
func (fs *extFS) walk(ctx context.Context, fn func(driven.FileEntry) error) error {
	names := map[uint32][]string{rootInode: {"/"}}
	order := []uint32{rootInode}

	visitedDirs := roaring.New()
	visitedDirs.Add(rootInode)

	type pendingDir struct {
		inode uint32
		path  string
	}
	stack := []pendingDir{{inode: rootInode, path: "/"}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		in, err := fs.readInode(dir.inode)
		if err != nil {
			return err
		}
		entries, err := fs.readDir(in)
		if err != nil {
			return fmt.Errorf("directory %s: %w", dir.path, err)
		}

		for _, e := range entries {
			if e.name == "." || e.name == ".." || e.inode > fs.inodesCount {
				continue
			}
			p := path.Join(dir.path, e.name)
			if _, seen := names[e.inode]; !seen {
				order = append(order, e.inode)
			}
			names[e.inode] = append(names[e.inode], p)

			isDir := e.isDir
			if !e.typed {
				child, err := fs.readInode(e.inode)
				if err != nil {
					return err
				}
				isDir = child.isDir()
			}
			if isDir && visitedDirs.CheckedAdd(e.inode) {
				stack = append(stack, pendingDir{inode: e.inode, path: p})
			}
		}
	}

	reported := roaring.New()
	for i, ino := range order {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		in, err := fs.readInode(ino)
		if err != nil {
			return err
		}
		reported.Add(ino)
		if err := fs.emit(ino, in, names[ino], fn); err != nil {
			return err
		}
	}

	return fs.walkUnreachable(ctx, reported, fn)
}

// walkUnreachable scans the inode tables for allocated inodes not already
// reported.
func (fs *extFS) walkUnreachable(ctx context.Context, reported *roaring.Bitmap, fn func(driven.FileEntry) error) error {
	groups := (fs.inodesCount + fs.inodesPerGroup - 1) / fs.inodesPerGroup
	for group := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}

		table, flags, err := fs.groupDesc(group)
		if err != nil {
			return err
		}
		if fs.uninitGroups && flags&bgInodeUninit != 0 {
			continue
		}

		count := min(fs.inodesPerGroup, fs.inodesCount-group*fs.inodesPerGroup)
		if table == 0 || table >= fs.blocksCount {
			return fmt.Errorf("%w: inode table of group %d outside the volume", errCorrupt, group)
		}
		raw := make([]byte, int64(count)*fs.inodeSize)
		if _, err := fs.r.ReadAt(raw, fs.base+int64(table)*fs.blockSize); err != nil { //nolint:gosec // table < blocksCount
			return fmt.Errorf("read inode table of group %d: %w", group, err)
		}

		for i := range count {
			ino := group*fs.inodesPerGroup + i + 1
			if reported.Contains(ino) {
				continue
			}
			at := int64(i) * fs.inodeSize
			in := parseInode(raw[at : at+128])
			p := "/$OrphanFiles/OrphanFile-" + strconv.FormatUint(uint64(ino), 10)
			if err := fs.emit(ino, in, []string{p}, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// emit reports one inode if it is an allocated regular file or directory.
func (fs *extFS) emit(ino uint32, in *extInode, paths []string, fn func(driven.FileEntry) error) error {
	if in.links == 0 || (!in.isRegular() && !in.isDir()) {
		return nil
	}
	runs, err := fs.runs(in)
	if err != nil {
		return fmt.Errorf("inode %d: %w", ino, err)
	}

	entry := driven.FileEntry{
		Inode:   uint64(ino),
		Paths:   paths,
		Size:    in.size,
		Extents: make([]domain.Extent, 0, len(runs)),
	}
	for _, r := range runs {
		start := fs.base + int64(r.physical)*fs.blockSize //nolint:gosec // physical < blocksCount
		entry.Extents = append(entry.Extents, domain.Extent{
			Start:      start,
			End:        start + int64(r.count)*fs.blockSize, //nolint:gosec // bounded by limit
			Inode:      uint64(ino),
			FileOffset: int64(r.logical) * fs.blockSize, //nolint:gosec // bounded by size
		})
	}
	return fn(entry)
}
