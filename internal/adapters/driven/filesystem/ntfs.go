package filesystem

import (
	"bytes"
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
)

// NTFS on-disk constants.
const (
	ntfsRootRecord = 5
	ntfsFixupSize  = 512

	attrFileName        = 0x30
	attrData            = 0x80
	attrIndexAllocation = 0xA0
	attrEnd             = 0xFFFFFFFF

	recordInUse     = 0x1
	recordDirectory = 0x2

	namespaceDOS = 2

	// refMask keeps the record number of a file reference.
	refMask = 1<<48 - 1

	mftChunkSize = 1 << 20
	maxDirDepth  = 256
)

const orphanDir = "/$OrphanFiles"

var errNTFSCorrupt = errors.New("corrupt NTFS filesystem")

// ntfsFS reads one NTFS volume of an image.
type ntfsFS struct {
	r    io.ReaderAt
	base int64

	clusterSize   int64
	recordSize    int64
	totalClusters int64

	mft     []ntfsRun
	mftSize int64
}

// ntfsRun maps count clusters of a stream starting at vcn to lcn.
type ntfsRun struct {
	vcn   int64
	lcn   int64
	count int64
}

type ntfsStream struct {
	runs []ntfsRun
	size int64
}

type ntfsName struct {
	parent    uint64
	name      string
	namespace byte
}

type ntfsRecord struct {
	number uint64
	seq    uint16
	flags  uint16
	base   uint64
	// offset is the record's image offset, or -1 when it straddles MFT runs.
	offset int64

	names []ntfsName
	data  ntfsStream
	index ntfsStream
	// resident is the [start, end) of an unnamed resident $DATA value
	// within the record.
	resident    [2]int64
	hasResident bool
}

func (rec *ntfsRecord) isDir() bool { return rec.flags&recordDirectory != 0 }

// primaryNames drops DOS 8.3 aliases when a long name exists.
func (rec *ntfsRecord) primaryNames() []ntfsName {
	out := make([]ntfsName, 0, len(rec.names))
	for _, n := range rec.names {
		if n.namespace != namespaceDOS {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return rec.names
	}
	return out
}

func openNTFS(r io.ReaderAt, base int64) (*ntfsFS, error) {
	boot := make([]byte, sectorSize)
	if _, err := r.ReadAt(boot, base); err != nil {
		return nil, fmt.Errorf("read boot sector: %w", err)
	}
	if !bytes.Equal(boot[3:11], []byte("NTFS    ")) {
		return nil, fmt.Errorf("%w: bad OEM id", errNTFSCorrupt)
	}

	le := binary.LittleEndian
	bps := int64(le.Uint16(boot[0x0B:]))
	if bps < 256 || bps > 4096 || bps&(bps-1) != 0 {
		return nil, fmt.Errorf("%w: %d bytes per sector", errNTFSCorrupt, bps)
	}

	fs := &ntfsFS{r: r, base: base}
	switch spc := boot[0x0D]; {
	case spc == 0:
		return nil, fmt.Errorf("%w: zero sectors per cluster", errNTFSCorrupt)
	case spc <= 0x80:
		fs.clusterSize = bps * int64(spc)
	default:
		// Large clusters are stored as a negative power of two.
		fs.clusterSize = bps << (256 - int(spc))
	}
	if fs.clusterSize <= 0 || fs.clusterSize > 2<<20 {
		return nil, fmt.Errorf("%w: cluster size %d", errNTFSCorrupt, fs.clusterSize)
	}
	fs.totalClusters = int64(le.Uint64(boot[0x28:])) * bps / fs.clusterSize //nolint:gosec // checked below

	if cpr := int8(boot[0x40]); cpr > 0 {
		fs.recordSize = int64(cpr) * fs.clusterSize
	} else {
		fs.recordSize = 1 << -int(cpr)
	}
	if fs.recordSize < ntfsFixupSize || fs.recordSize > 64<<10 || fs.recordSize%ntfsFixupSize != 0 {
		return nil, fmt.Errorf("%w: record size %d", errNTFSCorrupt, fs.recordSize)
	}

	mftLCN := int64(le.Uint64(boot[0x30:])) //nolint:gosec // checked below
	if fs.totalClusters <= 0 || mftLCN <= 0 || mftLCN >= fs.totalClusters {
		return nil, fmt.Errorf("%w: MFT at cluster %d", errNTFSCorrupt, mftLCN)
	}

	raw := make([]byte, fs.recordSize)
	if _, err := r.ReadAt(raw, base+mftLCN*fs.clusterSize); err != nil {
		return nil, fmt.Errorf("read $MFT record: %w", err)
	}
	mft, err := fs.parseRecord(raw, 0, newUTF16Decoder())
	if err != nil {
		return nil, fmt.Errorf("$MFT record: %w", err)
	}
	if mft == nil || len(mft.data.runs) == 0 || mft.data.size < fs.recordSize {
		return nil, fmt.Errorf("%w: $MFT has no data", errNTFSCorrupt)
	}
	fs.mft = mft.data.runs
	fs.mftSize = mft.data.size
	return fs, nil
}

func newUTF16Decoder() *encoding.Decoder {
	return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
}

// applyFixups restores the last two bytes of every sector of a record from
// its update sequence array.
func applyFixups(rec []byte) error {
	le := binary.LittleEndian
	usaOff := int(le.Uint16(rec[4:]))
	usaCount := int(le.Uint16(rec[6:]))
	if usaCount == 0 {
		return nil
	}
	if usaOff+2*usaCount > len(rec) || (usaCount-1)*ntfsFixupSize > len(rec) {
		return fmt.Errorf("%w: update sequence out of bounds", errNTFSCorrupt)
	}
	usn := rec[usaOff : usaOff+2]
	for i := 1; i < usaCount; i++ {
		end := i*ntfsFixupSize - 2
		if !bytes.Equal(rec[end:end+2], usn) {
			return fmt.Errorf("%w: torn record", errNTFSCorrupt)
		}
		copy(rec[end:end+2], rec[usaOff+2*i:])
	}
	return nil
}

// parseRecord decodes the attributes of one MFT record. Records that are
// not in use yield nil.
func (fs *ntfsFS) parseRecord(raw []byte, number uint64, dec *encoding.Decoder) (*ntfsRecord, error) {
	if !bytes.Equal(raw[0:4], []byte("FILE")) {
		return nil, nil
	}
	if err := applyFixups(raw); err != nil {
		return nil, err
	}

	le := binary.LittleEndian
	rec := &ntfsRecord{
		number: number,
		seq:    le.Uint16(raw[16:]),
		flags:  le.Uint16(raw[22:]),
		base:   le.Uint64(raw[32:]) & refMask,
		offset: -1,
	}
	if rec.flags&recordInUse == 0 {
		return nil, nil
	}

	for pos := int(le.Uint16(raw[20:])); pos+16 <= len(raw); {
		typ := le.Uint32(raw[pos:])
		if typ == attrEnd {
			break
		}
		length := int(le.Uint32(raw[pos+4:]))
		if length < 16 || pos+length > len(raw) {
			return nil, fmt.Errorf("%w: attribute at %d of record %d", errNTFSCorrupt, pos, number)
		}
		attr := raw[pos : pos+length]

		name, err := attrName(attr, dec)
		if err != nil {
			return nil, err
		}
		nonResident := attr[8] != 0

		switch {
		case typ == attrFileName && !nonResident:
			if fn, ok := fileName(attr, dec); ok {
				rec.names = append(rec.names, fn)
			}
		case typ == attrData && name == "" && nonResident:
			if err := addRuns(&rec.data, attr); err != nil {
				return nil, fmt.Errorf("record %d $DATA: %w", number, err)
			}
		case typ == attrData && name == "":
			if len(attr) < 24 {
				return nil, fmt.Errorf("%w: short resident attribute", errNTFSCorrupt)
			}
			size := int64(le.Uint32(attr[16:]))
			start := int64(pos) + int64(le.Uint16(attr[20:]))
			if start+size > int64(pos+length) {
				return nil, fmt.Errorf("%w: resident value out of bounds", errNTFSCorrupt)
			}
			rec.resident = [2]int64{start, start + size}
			rec.hasResident = size > 0
			rec.data.size = size
		case typ == attrIndexAllocation && name == "$I30" && nonResident:
			if err := addRuns(&rec.index, attr); err != nil {
				return nil, fmt.Errorf("record %d $I30: %w", number, err)
			}
		}
		pos += length
	}
	return rec, nil
}

func attrName(attr []byte, dec *encoding.Decoder) (string, error) {
	n := int(attr[9])
	if n == 0 {
		return "", nil
	}
	off := int(binary.LittleEndian.Uint16(attr[10:]))
	if off+2*n > len(attr) {
		return "", fmt.Errorf("%w: attribute name out of bounds", errNTFSCorrupt)
	}
	name, err := dec.Bytes(attr[off : off+2*n])
	if err != nil {
		return "", fmt.Errorf("%w: attribute name: %v", errNTFSCorrupt, err)
	}
	return string(name), nil
}

func fileName(attr []byte, dec *encoding.Decoder) (ntfsName, bool) {
	if len(attr) < 24 {
		return ntfsName{}, false
	}
	le := binary.LittleEndian
	off := int(le.Uint16(attr[20:]))
	size := int(le.Uint32(attr[16:]))
	if off+size > len(attr) || size < 66 {
		return ntfsName{}, false
	}
	value := attr[off : off+size]
	n := int(value[64])
	if 66+2*n > len(value) {
		return ntfsName{}, false
	}
	name, err := dec.Bytes(value[66 : 66+2*n])
	if err != nil || len(name) == 0 {
		return ntfsName{}, false
	}
	return ntfsName{parent: le.Uint64(value[0:]), name: string(name), namespace: value[65]}, true
}

// addRuns decodes the runlist of a non-resident attribute into s. Only the
// first fragment of an attribute carries the stream size.
func addRuns(s *ntfsStream, attr []byte) error {
	if len(attr) < 64 {
		return fmt.Errorf("%w: short non-resident attribute", errNTFSCorrupt)
	}
	le := binary.LittleEndian
	vcn := int64(le.Uint64(attr[16:])) //nolint:gosec // checked by decodeRuns
	off := int(le.Uint16(attr[32:]))
	if off >= len(attr) {
		return fmt.Errorf("%w: runlist out of bounds", errNTFSCorrupt)
	}
	runs, err := decodeRuns(attr[off:], vcn)
	if err != nil {
		return err
	}
	if vcn == 0 {
		s.size = int64(le.Uint64(attr[48:])) //nolint:gosec // sizes fit in int64
	}
	s.runs = append(s.runs, runs...)
	return nil
}

// decodeRuns parses a mapping pairs array. Sparse runs are dropped.
func decodeRuns(b []byte, vcn int64) ([]ntfsRun, error) {
	if vcn < 0 {
		return nil, fmt.Errorf("%w: negative VCN", errNTFSCorrupt)
	}
	var runs []ntfsRun
	lcn := int64(0)
	for i := 0; i < len(b) && b[i] != 0; {
		lenSize, offSize := int(b[i]&0x0F), int(b[i]>>4)
		i++
		if lenSize == 0 || lenSize > 8 || offSize > 8 || i+lenSize+offSize > len(b) {
			return nil, fmt.Errorf("%w: bad run header", errNTFSCorrupt)
		}
		count := int64(leUint(b[i : i+lenSize])) //nolint:gosec // checked below
		i += lenSize
		if count <= 0 {
			return nil, fmt.Errorf("%w: run of %d clusters", errNTFSCorrupt, count)
		}
		if offSize == 0 {
			vcn += count
			continue
		}
		lcn += leInt(b[i : i+offSize])
		i += offSize
		runs = append(runs, ntfsRun{vcn: vcn, lcn: lcn, count: count})
		vcn += count
	}
	return runs, nil
}

func leUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leInt(b []byte) int64 {
	v := leUint(b)
	shift := 64 - 8*len(b)
	return int64(v<<shift) >> shift //nolint:gosec // sign extension
}

// extents converts the runs of a stream to image byte ranges, limited to
// the clusters its size covers.
func (fs *ntfsFS) extents(s ntfsStream, ino uint64) []domain.Extent {
	limit := int64(-1)
	if s.size > 0 {
		limit = (s.size + fs.clusterSize - 1) / fs.clusterSize
	}
	out := make([]domain.Extent, 0, len(s.runs))
	for _, r := range s.runs {
		count := r.count
		if limit >= 0 {
			if r.vcn >= limit {
				continue
			}
			count = min(count, limit-r.vcn)
		}
		if r.lcn < 0 || r.lcn+count > fs.totalClusters {
			continue
		}
		start := fs.base + r.lcn*fs.clusterSize
		out = append(out, domain.Extent{
			Start:      start,
			End:        start + count*fs.clusterSize,
			Inode:      ino,
			FileOffset: r.vcn * fs.clusterSize,
		})
	}
	return out
}

// mftReader reads the $MFT stream through its runs in large chunks.
type mftReader struct {
	fs       *ntfsFS
	buf      []byte
	bufStart int64
}

// imageOffset maps a stream offset to the image. It returns -1 when the
// n bytes there are not contiguous on disk.
func (m *mftReader) imageOffset(off, n int64) int64 {
	cs := m.fs.clusterSize
	for _, r := range m.fs.mft {
		start, end := r.vcn*cs, (r.vcn+r.count)*cs
		if off >= start && off < end {
			if off+n > end {
				return -1
			}
			return m.fs.base + r.lcn*cs + off - start
		}
	}
	return -1
}

func (m *mftReader) fill(off int64) error {
	n := min(int64(mftChunkSize), m.fs.mftSize-off)
	n -= n % m.fs.recordSize
	if n < m.fs.recordSize {
		n = m.fs.recordSize
	}
	if int64(cap(m.buf)) < n {
		m.buf = make([]byte, n)
	}
	m.buf = m.buf[:n]
	m.bufStart = off

	cs := m.fs.clusterSize
	for done := int64(0); done < n; {
		at := off + done
		img := int64(-1)
		avail := int64(0)
		for _, r := range m.fs.mft {
			start, end := r.vcn*cs, (r.vcn+r.count)*cs
			if at >= start && at < end {
				img = m.fs.base + r.lcn*cs + at - start
				avail = end - at
				break
			}
		}
		if img < 0 {
			return fmt.Errorf("%w: $MFT offset %d is not mapped", errNTFSCorrupt, at)
		}
		k := min(avail, n-done)
		if _, err := m.fs.r.ReadAt(m.buf[done:done+k], img); err != nil {
			return fmt.Errorf("read $MFT: %w", err)
		}
		done += k
	}
	return nil
}

// record returns a copy of the raw record n.
func (m *mftReader) record(n uint64) ([]byte, error) {
	off := int64(n) * m.fs.recordSize //nolint:gosec // n < mftSize/recordSize
	if off < m.bufStart || off+m.fs.recordSize > m.bufStart+int64(len(m.buf)) {
		if err := m.fill(off); err != nil {
			return nil, err
		}
	}
	at := off - m.bufStart
	return slices.Clone(m.buf[at : at+m.fs.recordSize]), nil
}

// walk lists every in-use file and directory of the volume. Unnamed $DATA
// and $I30 index allocations map to their clusters; resident data maps to
// the exact bytes inside its MFT record, which are carved out of $MFT.
// Files whose parent cannot be resolved are placed under /$OrphanFiles.
func (fs *ntfsFS) walk(ctx context.Context, fn func(driven.FileEntry) error) error {
	records, err := fs.readRecords(ctx)
	if err != nil {
		return err
	}

	numbers := make([]uint64, 0, len(records))
	for n := range records {
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)

	paths := &ntfsPaths{records: records, dirs: make(map[uint64]string), resolving: make(map[uint64]bool)}

	for i, n := range numbers {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rec := records[n]

		entry := driven.FileEntry{
			Inode: n,
			Paths: paths.files(rec),
			Size:  rec.data.size,
		}
		if rec.data.size == 0 && rec.isDir() {
			entry.Size = rec.index.size
		}

		switch {
		case n == 0:
			entry.Extents = fs.carveResident(fs.extents(rec.data, 0), records)
		case rec.hasResident && rec.offset >= 0:
			entry.Extents = []domain.Extent{{
				Start: rec.offset + rec.resident[0],
				End:   rec.offset + rec.resident[1],
				Inode: n,
			}}
		default:
			entry.Extents = fs.extents(rec.data, n)
		}
		entry.Extents = append(entry.Extents, fs.extents(rec.index, n)...)

		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

// readRecords loads every in-use base record and merges extension records
// into their base.
func (fs *ntfsFS) readRecords(ctx context.Context) (map[uint64]*ntfsRecord, error) {
	m := &mftReader{fs: fs}
	dec := newUTF16Decoder()
	total := uint64(fs.mftSize / fs.recordSize) //nolint:gosec // both positive

	records := make(map[uint64]*ntfsRecord)
	var extensions []*ntfsRecord
	for n := range total {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw, err := m.record(n)
		if err != nil {
			return nil, err
		}
		rec, err := fs.parseRecord(raw, n, dec)
		if err != nil {
			// A single damaged record does not make the volume unreadable.
			continue
		}
		if rec == nil {
			continue
		}
		rec.offset = m.imageOffset(int64(n)*fs.recordSize, fs.recordSize) //nolint:gosec // n < total
		if rec.base != 0 && rec.base != n {
			extensions = append(extensions, rec)
			continue
		}
		records[n] = rec
	}

	for _, ext := range extensions {
		base, ok := records[ext.base]
		if !ok {
			continue
		}
		base.names = append(base.names, ext.names...)
		base.data.runs = append(base.data.runs, ext.data.runs...)
		base.index.runs = append(base.index.runs, ext.index.runs...)
		if base.data.size == 0 {
			base.data.size = ext.data.size
		}
		if base.index.size == 0 {
			base.index.size = ext.index.size
		}
	}
	for _, rec := range records {
		slices.SortFunc(rec.data.runs, func(a, b ntfsRun) int { return cmp.Compare(a.vcn, b.vcn) })
		slices.SortFunc(rec.index.runs, func(a, b ntfsRun) int { return cmp.Compare(a.vcn, b.vcn) })
	}
	return records, nil
}

// carveResident removes the resident data of other records from the $MFT
// extents so every byte has one owner.
func (fs *ntfsFS) carveResident(mft []domain.Extent, records map[uint64]*ntfsRecord) []domain.Extent {
	var holes [][2]int64
	for _, rec := range records {
		if rec.hasResident && rec.offset >= 0 {
			holes = append(holes, [2]int64{rec.offset + rec.resident[0], rec.offset + rec.resident[1]})
		}
	}
	if len(holes) == 0 {
		return mft
	}
	slices.SortFunc(holes, func(a, b [2]int64) int { return cmp.Compare(a[0], b[0]) })

	out := make([]domain.Extent, 0, len(mft)+len(holes))
	for _, e := range mft {
		cur := e.Start
		for _, h := range holes {
			if h[1] <= cur || h[0] >= e.End {
				continue
			}
			if h[0] > cur {
				out = append(out, domain.Extent{Start: cur, End: h[0], Inode: e.Inode, FileOffset: e.FileOffset + cur - e.Start})
			}
			cur = max(cur, h[1])
		}
		if cur < e.End {
			out = append(out, domain.Extent{Start: cur, End: e.End, Inode: e.Inode, FileOffset: e.FileOffset + cur - e.Start})
		}
	}
	return out
}

// ntfsPaths resolves record names to absolute paths.
type ntfsPaths struct {
	records   map[uint64]*ntfsRecord
	dirs      map[uint64]string
	resolving map[uint64]bool
}

func (p *ntfsPaths) files(rec *ntfsRecord) []string {
	if rec.number == ntfsRootRecord {
		return []string{"/"}
	}
	names := rec.primaryNames()
	out := make([]string, 0, len(names))
	for _, n := range names {
		full := path.Join(p.dir(n.parent, 0), n.name)
		if !slices.Contains(out, full) {
			out = append(out, full)
		}
	}
	if len(out) == 0 {
		out = append(out, fmt.Sprintf("%s/OrphanFile-%d", orphanDir, rec.number))
	}
	return out
}

// dir returns the path of the directory a file reference points to.
func (p *ntfsPaths) dir(ref uint64, depth int) string {
	n := ref & refMask
	if n == ntfsRootRecord {
		return "/"
	}
	if cached, ok := p.dirs[n]; ok {
		return cached
	}

	rec, ok := p.records[n]
	if !ok || !rec.isDir() || p.resolving[n] || depth > maxDirDepth {
		return orphanDir
	}
	if seq := ref >> 48; seq != 0 && seq != uint64(rec.seq) {
		return orphanDir
	}
	names := rec.primaryNames()
	if len(names) == 0 {
		return orphanDir
	}

	p.resolving[n] = true
	full := path.Join(p.dir(names[0].parent, depth+1), names[0].name)
	delete(p.resolving, n)
	p.dirs[n] = full
	return full
}
