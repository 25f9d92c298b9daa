package filesystem

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/ports/driven"
)

// Test NTFS layout: 4 KiB clusters, 1 KiB records, a 16 record $MFT at
// cluster 4, file data from cluster 10.
const (
	testClusterSize  = 4096
	testRecordSize   = 1024
	testMFTCluster   = 4
	testMFTClusters  = 4
	testNTFSClusters = 32
	testMFTOffset    = testMFTCluster * testClusterSize
	testResident     = "resident secret"
)

var le = binary.LittleEndian

type ntfsBuilder struct {
	img []byte
}

// testRun is one data run; a negative lcn marks a sparse run.
type testRun struct {
	lcn   int64
	count int64
}

// testRecord accumulates the attributes of one MFT record.
type testRecord struct {
	b   *ntfsBuilder
	n   int
	buf []byte
	pos int
}

func newNTFSBuilder() *ntfsBuilder {
	b := &ntfsBuilder{img: make([]byte, testNTFSClusters*testClusterSize)}
	boot := b.img
	copy(boot[3:], "NTFS    ")
	le.PutUint16(boot[0x0B:], sectorSize)
	boot[0x0D] = testClusterSize / sectorSize
	le.PutUint64(boot[0x28:], testNTFSClusters*testClusterSize/sectorSize)
	le.PutUint64(boot[0x30:], testMFTCluster)
	boot[0x40] = 0xF6 // 2^10 byte records
	return b
}

func (b *ntfsBuilder) record(n int, flags uint16) *testRecord {
	buf := make([]byte, testRecordSize)
	copy(buf, "FILE")
	le.PutUint16(buf[4:], 48)
	le.PutUint16(buf[6:], testRecordSize/ntfsFixupSize+1)
	le.PutUint16(buf[16:], 1)
	le.PutUint16(buf[18:], 1)
	le.PutUint16(buf[20:], 56)
	le.PutUint16(buf[22:], flags)
	le.PutUint32(buf[28:], testRecordSize)
	return &testRecord{b: b, n: n, buf: buf, pos: 56}
}

// add appends an attribute and returns its offset in the record.
func (r *testRecord) add(attr []byte) int {
	at := r.pos
	copy(r.buf[at:], attr)
	r.pos += len(attr)
	return at
}

func (r *testRecord) base(n uint64) *testRecord {
	le.PutUint64(r.buf[32:], 1<<48|n)
	return r
}

func (r *testRecord) name(parent uint64, name string, namespace byte) *testRecord {
	u := utf16le(name)
	v := make([]byte, 66+len(u))
	le.PutUint64(v[0:], 1<<48|parent)
	v[64] = byte(len(u) / 2)
	v[65] = namespace
	copy(v[66:], u)
	r.add(residentAttr(attrFileName, v))
	return r
}

func (r *testRecord) nonResident(typ uint32, name string, vcn int64, size int64, runs ...testRun) *testRecord {
	r.add(nonResidentAttr(typ, name, vcn, size, runs))
	return r
}

// residentData stores value as unnamed $DATA and returns where it starts
// in the record.
func (r *testRecord) residentData(value string) int {
	return r.add(residentAttr(attrData, []byte(value))) + 24
}

// write terminates the record, protects it with fixups and stores it in
// the $MFT.
func (r *testRecord) write() {
	le.PutUint32(r.buf[r.pos:], attrEnd)
	le.PutUint32(r.buf[24:], uint32(r.pos+8))

	const usn = 0x0001
	le.PutUint16(r.buf[48:], usn)
	for i := 1; i <= testRecordSize/ntfsFixupSize; i++ {
		end := i*ntfsFixupSize - 2
		copy(r.buf[48+2*i:], r.buf[end:end+2])
		le.PutUint16(r.buf[end:], usn)
	}
	copy(r.b.img[testMFTOffset+r.n*testRecordSize:], r.buf)
}

func utf16le(s string) []byte {
	out := make([]byte, 0, 2*len(s))
	for _, c := range s {
		out = le.AppendUint16(out, uint16(c))
	}
	return out
}

func align8(n int) int { return (n + 7) &^ 7 }

func residentAttr(typ uint32, value []byte) []byte {
	a := make([]byte, align8(24+len(value)))
	le.PutUint32(a[0:], typ)
	le.PutUint32(a[4:], uint32(len(a)))
	le.PutUint32(a[16:], uint32(len(value)))
	le.PutUint16(a[20:], 24)
	copy(a[24:], value)
	return a
}

func nonResidentAttr(typ uint32, name string, vcn, size int64, runs []testRun) []byte {
	u := utf16le(name)
	runOff := align8(64 + len(u))

	var runlist []byte
	prev, last := int64(0), vcn
	for _, r := range runs {
		if r.lcn < 0 {
			runlist = append(runlist, 0x01, byte(r.count))
		} else {
			runlist = append(runlist, 0x11, byte(r.count), byte(int8(r.lcn-prev)))
			prev = r.lcn
		}
		last += r.count
	}
	runlist = append(runlist, 0)

	a := make([]byte, align8(runOff+len(runlist)))
	le.PutUint32(a[0:], typ)
	le.PutUint32(a[4:], uint32(len(a)))
	a[8] = 1
	a[9] = byte(len(u) / 2)
	le.PutUint16(a[10:], 64)
	le.PutUint64(a[16:], uint64(vcn))
	le.PutUint64(a[24:], uint64(last-1))
	le.PutUint16(a[32:], uint16(runOff))
	le.PutUint64(a[40:], uint64(size))
	le.PutUint64(a[48:], uint64(size))
	le.PutUint64(a[56:], uint64(size))
	copy(a[64:], u)
	copy(a[runOff:], runlist)
	return a
}

// newTestNTFS builds the reference volume and returns the offset of the
// resident data of small.txt within its record:
//
//	$MFT             record 0, clusters 4-7
//	/                record 5, index at cluster 13
//	/hello.txt       record 8, clusters 10-11, also /docs/résumé.txt
//	/docs            record 9, index at cluster 12
//	/docs/small.txt  record 10, resident
//	gone.txt         record 11, not in use
//	/frag.bin        record 12, cluster 16, a sparse cluster, then
//	                 cluster 20 from extension record 13
//	lost.txt         record 14, parent record 15 is unused
func newTestNTFS() (*ntfsBuilder, int) {
	b := newNTFSBuilder()

	b.record(0, recordInUse).
		name(ntfsRootRecord, "$MFT", 3).
		nonResident(attrData, "", 0, testMFTClusters*testClusterSize, testRun{testMFTCluster, testMFTClusters}).
		write()

	b.record(5, recordInUse|recordDirectory).
		name(ntfsRootRecord, ".", 3).
		nonResident(attrIndexAllocation, "$I30", 0, testClusterSize, testRun{13, 1}).
		write()

	b.record(8, recordInUse).
		name(ntfsRootRecord, "hello.txt", 1).
		name(ntfsRootRecord, "HELLO~1.TXT", namespaceDOS).
		name(9, "résumé.txt", 1).
		nonResident(attrData, "", 0, 5000, testRun{10, 2}).
		nonResident(attrData, "secret", 0, testClusterSize, testRun{24, 1}).
		write()

	b.record(9, recordInUse|recordDirectory).
		name(ntfsRootRecord, "docs", 1).
		nonResident(attrIndexAllocation, "$I30", 0, testClusterSize, testRun{12, 1}).
		write()

	small := b.record(10, recordInUse).name(9, "small.txt", 3)
	resident := small.residentData(testResident)
	small.write()

	b.record(11, 0).
		name(ntfsRootRecord, "gone.txt", 1).
		nonResident(attrData, "", 0, testClusterSize, testRun{25, 1}).
		write()

	b.record(12, recordInUse).
		name(ntfsRootRecord, "frag.bin", 1).
		nonResident(attrData, "", 0, 3*testClusterSize, testRun{16, 1}, testRun{-1, 1}).
		write()
	b.record(13, recordInUse).base(12).
		nonResident(attrData, "", 2, 0, testRun{20, 1}).
		write()

	b.record(14, recordInUse).
		name(15, "lost.txt", 1).
		nonResident(attrData, "", 0, 10, testRun{22, 1}).
		write()

	return b, resident
}

func walkNTFS(t *testing.T, img []byte, base int64) map[uint64]driven.FileEntry {
	t.Helper()

	fs, err := openNTFS(bytes.NewReader(img), base)
	require.NoError(t, err)

	files := make(map[uint64]driven.FileEntry)
	require.NoError(t, fs.walk(context.Background(), func(fe driven.FileEntry) error {
		files[fe.Inode] = fe
		return nil
	}))
	return files
}

func clusters(ino uint64, lcn, count, vcn int64) domain.Extent {
	return domain.Extent{
		Start:      lcn * testClusterSize,
		End:        (lcn + count) * testClusterSize,
		Inode:      ino,
		FileOffset: vcn * testClusterSize,
	}
}

func TestOpenNTFS(t *testing.T) {
	b, _ := newTestNTFS()
	fs, err := openNTFS(bytes.NewReader(b.img), 0)
	require.NoError(t, err)

	assert.Equal(t, int64(testClusterSize), fs.clusterSize)
	assert.Equal(t, int64(testRecordSize), fs.recordSize)
	assert.Equal(t, int64(testNTFSClusters), fs.totalClusters)
	assert.Equal(t, int64(testMFTClusters*testClusterSize), fs.mftSize)

	stub := make([]byte, 4096)
	copy(stub[3:], "NTFS    ")
	_, err = openNTFS(bytes.NewReader(stub), 0)
	assert.ErrorIs(t, err, errNTFSCorrupt)

	noMFT := newNTFSBuilder()
	_, err = openNTFS(bytes.NewReader(noMFT.img), 0)
	assert.ErrorIs(t, err, errNTFSCorrupt)
}

func TestNTFSWalk(t *testing.T) {
	b, _ := newTestNTFS()
	files := walkNTFS(t, b.img, 0)

	require.Len(t, files, 7)
	assert.NotContains(t, files, uint64(11), "records not in use must not be mapped")
	assert.NotContains(t, files, uint64(13), "extension records belong to their base record")

	assert.Equal(t, []string{"/$MFT"}, files[0].Paths)

	root := files[ntfsRootRecord]
	assert.Equal(t, []string{"/"}, root.Paths)
	assert.Equal(t, []domain.Extent{clusters(5, 13, 1, 0)}, root.Extents)

	docs := files[9]
	assert.Equal(t, []string{"/docs"}, docs.Paths)
	assert.Equal(t, int64(testClusterSize), docs.Size)
	assert.Equal(t, []domain.Extent{clusters(9, 12, 1, 0)}, docs.Extents)

	hello := files[8]
	assert.Equal(t, []string{"/hello.txt", "/docs/résumé.txt"}, hello.Paths, "DOS names are aliases")
	assert.Equal(t, int64(5000), hello.Size)
	assert.Equal(t, []domain.Extent{clusters(8, 10, 2, 0)}, hello.Extents, "named streams are not mapped")
}

func TestNTFSWalk_ResidentData(t *testing.T) {
	b, resident := newTestNTFS()
	files := walkNTFS(t, b.img, 0)

	start := int64(testMFTOffset + 10*testRecordSize + resident)
	end := start + int64(len(testResident))
	assert.Equal(t, testResident, string(b.img[start:end]))

	small := files[10]
	assert.Equal(t, []string{"/docs/small.txt"}, small.Paths)
	assert.Equal(t, int64(len(testResident)), small.Size)
	assert.Equal(t, []domain.Extent{{Start: start, End: end, Inode: 10}}, small.Extents)

	mftEnd := int64(testMFTOffset + testMFTClusters*testClusterSize)
	assert.Equal(t, []domain.Extent{
		{Start: testMFTOffset, End: start, Inode: 0, FileOffset: 0},
		{Start: end, End: mftEnd, Inode: 0, FileOffset: end - testMFTOffset},
	}, files[0].Extents, "resident data is carved out of $MFT")
}

func TestNTFSWalk_ExtensionRecord(t *testing.T) {
	b, _ := newTestNTFS()
	files := walkNTFS(t, b.img, 0)

	frag := files[12]
	assert.Equal(t, []string{"/frag.bin"}, frag.Paths)
	assert.Equal(t, int64(3*testClusterSize), frag.Size)
	assert.Equal(t, []domain.Extent{clusters(12, 16, 1, 0), clusters(12, 20, 1, 2)}, frag.Extents)
}

func TestNTFSWalk_OrphanFiles(t *testing.T) {
	b, _ := newTestNTFS()
	files := walkNTFS(t, b.img, 0)

	lost := files[14]
	assert.Equal(t, []string{"/$OrphanFiles/lost.txt"}, lost.Paths)
	assert.Equal(t, []domain.Extent{clusters(14, 22, 1, 0)}, lost.Extents)
}

func TestNTFSWalk_DirectoryLoop(t *testing.T) {
	b, _ := newTestNTFS()
	// docs names itself as its parent.
	b.record(9, recordInUse|recordDirectory).
		name(9, "docs", 1).
		nonResident(attrIndexAllocation, "$I30", 0, testClusterSize, testRun{12, 1}).
		write()

	files := walkNTFS(t, b.img, 0)
	assert.Equal(t, []string{"/$OrphanFiles/docs/small.txt"}, files[10].Paths)
	assert.Equal(t, []string{"/hello.txt", "/$OrphanFiles/docs/résumé.txt"}, files[8].Paths)
}

func TestNTFSWalk_TornRecord(t *testing.T) {
	b, _ := newTestNTFS()
	// Sector two of frag.bin no longer matches its update sequence number.
	b.img[testMFTOffset+12*testRecordSize+2*ntfsFixupSize-2] ^= 0xFF

	files := walkNTFS(t, b.img, 0)
	assert.NotContains(t, files, uint64(12))
	assert.Contains(t, files, uint64(8))
}

func TestNTFSWalk_VolumeOffset(t *testing.T) {
	b, resident := newTestNTFS()
	base := int64(8 * sectorSize)
	img := append(make([]byte, base), b.img...)

	files := walkNTFS(t, img, base)
	assert.Equal(t, base+10*testClusterSize, files[8].Extents[0].Start)
	assert.Equal(t, base+testMFTOffset+10*testRecordSize+int64(resident), files[10].Extents[0].Start)
}

func TestNTFSWalk_Cancelled(t *testing.T) {
	b, _ := newTestNTFS()
	fs, err := openNTFS(bytes.NewReader(b.img), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = fs.walk(ctx, func(driven.FileEntry) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeRuns(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		vcn     int64
		want    []ntfsRun
		wantErr bool
	}{
		{
			name: "single run",
			in:   []byte{0x11, 0x02, 0x0A, 0x00},
			want: []ntfsRun{{vcn: 0, lcn: 10, count: 2}},
		},
		{
			name: "backwards and sparse",
			in:   []byte{0x11, 0x02, 0x20, 0x11, 0x01, 0xF0, 0x01, 0x03, 0x11, 0x01, 0x05, 0x00},
			want: []ntfsRun{
				{vcn: 0, lcn: 32, count: 2},
				{vcn: 2, lcn: 16, count: 1},
				{vcn: 6, lcn: 21, count: 1},
			},
		},
		{
			name: "continues at start vcn",
			in:   []byte{0x21, 0x04, 0x00, 0x01, 0x00},
			vcn:  8,
			want: []ntfsRun{{vcn: 8, lcn: 256, count: 4}},
		},
		{
			name:    "truncated",
			in:      []byte{0x22, 0x01},
			wantErr: true,
		},
		{
			name:    "zero length",
			in:      []byte{0x11, 0x00, 0x01, 0x00},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeRuns(tt.in, tt.vcn)
			if tt.wantErr {
				assert.ErrorIs(t, err, errNTFSCorrupt)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
