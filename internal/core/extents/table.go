package extents

import (
	"fmt"
	"sort"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

// Rejection records an extent dropped because it overlapped an extent
// that was added before it.
type Rejection struct {
	Rejected domain.Extent
	Kept     domain.Extent
}

func (r Rejection) String() string {
	return fmt.Sprintf("extent [%d,%d) of inode %d overlaps [%d,%d) of inode %d",
		r.Rejected.Start, r.Rejected.End, r.Rejected.Inode,
		r.Kept.Start, r.Kept.End, r.Kept.Inode)
}

type entry struct {
	extent domain.Extent
	seq    int
}

// Builder accumulates extents in walk order.
// The zero value is ready to use. A Builder is not safe for concurrent use.
type Builder struct {
	entries []entry
}

// NewBuilder returns a Builder with room for n extents.
func NewBuilder(n int) *Builder {
	return &Builder{entries: make([]entry, 0, n)}
}

// Add appends an extent. Empty or inverted ranges are rejected with
// domain.ErrInvalidInput.
func (b *Builder) Add(e domain.Extent) error {
	if e.Start < 0 || e.End <= e.Start {
		return fmt.Errorf("extent [%d,%d): %w", e.Start, e.End, domain.ErrInvalidInput)
	}
	b.entries = append(b.entries, entry{extent: e, seq: len(b.entries)})
	return nil
}

// Len returns the number of extents added so far.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Build sorts the extents and resolves overlaps. It does not modify the
// Builder, so calling it twice yields equal tables.
func (b *Builder) Build() (*Table, []Rejection) {
	sorted := make([]entry, len(b.entries))
	copy(sorted, b.entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].extent.Start != sorted[j].extent.Start {
			return sorted[i].extent.Start < sorted[j].extent.Start
		}
		return sorted[i].seq < sorted[j].seq
	})

	out := make([]domain.Extent, 0, len(sorted))
	var rejected []Rejection

	for i := 0; i < len(sorted); {
		// A cluster is a maximal run whose ranges chain into each other.
		maxEnd := sorted[i].extent.End
		j := i + 1
		for j < len(sorted) && sorted[j].extent.Start < maxEnd {
			if sorted[j].extent.End > maxEnd {
				maxEnd = sorted[j].extent.End
			}
			j++
		}

		if j-i == 1 {
			out = append(out, sorted[i].extent)
		} else {
			kept, dropped := resolveCluster(sorted[i:j])
			out = append(out, kept...)
			rejected = append(rejected, dropped...)
		}
		i = j
	}

	return &Table{extents: out}, rejected
}

// resolveCluster accepts extents in the order they were added, skipping any
// that overlaps an extent already accepted. Accepted extents are indexed by
// start in a red-black tree for neighbour lookups.
func resolveCluster(cluster []entry) ([]domain.Extent, []Rejection) {
	bySeq := make([]entry, len(cluster))
	copy(bySeq, cluster)
	sort.Slice(bySeq, func(i, j int) bool { return bySeq[i].seq < bySeq[j].seq })

	accepted := redblacktree.NewWith(utils.Int64Comparator)
	kept := make([]domain.Extent, 0, len(bySeq))
	var dropped []Rejection

	for _, en := range bySeq {
		e := en.extent
		if prev, ok := accepted.Floor(e.Start - 1); ok {
			if k := prev.Value.(domain.Extent); k.Overlaps(e) {
				dropped = append(dropped, Rejection{Rejected: e, Kept: k})
				continue
			}
		}
		if next, ok := accepted.Ceiling(e.Start); ok {
			if k := next.Value.(domain.Extent); k.Overlaps(e) {
				dropped = append(dropped, Rejection{Rejected: e, Kept: k})
				continue
			}
		}
		accepted.Put(e.Start, e)
		kept = append(kept, e)
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept, dropped
}

// Table is an immutable, non-overlapping extent map sorted by start offset.
type Table struct {
	extents []domain.Extent
}

// Empty is a table with no extents. Every offset resolves to unallocated.
var Empty = &Table{}

// Resolve returns the file location of a raw image offset. The second
// result is false when the offset lies outside every extent.
func (t *Table) Resolve(offset int64) (domain.Location, bool) {
	if t == nil || len(t.extents) == 0 {
		return domain.Location{}, false
	}

	// First extent starting after offset; the candidate is the one before it.
	i := sort.Search(len(t.extents), func(k int) bool { return t.extents[k].Start > offset })
	if i == 0 {
		return domain.Location{}, false
	}

	e := t.extents[i-1]
	if offset >= e.End {
		return domain.Location{}, false
	}

	return domain.Location{
		Inode:      e.Inode,
		FileOffset: e.FileOffset + (offset - e.Start),
	}, true
}

// Len returns the number of extents in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.extents)
}

// Extents returns a copy of the table contents in start order.
func (t *Table) Extents() []domain.Extent {
	if t == nil {
		return nil
	}
	out := make([]domain.Extent, len(t.extents))
	copy(out, t.extents)
	return out
}

// Load builds a table from extents read back from storage.
func Load(stored []domain.Extent) (*Table, []Rejection, error) {
	b := NewBuilder(len(stored))
	for _, e := range stored {
		if err := b.Add(e); err != nil {
			return nil, nil, err
		}
	}
	t, rejected := b.Build()
	return t, rejected, nil
}
