package services

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
	"github.com/custodia-labs/dfdewey/internal/core/extents"
)

// VolumeTables hands the extent tables of one image to the indexer as each
// volume finishes mapping. Lookups for a volume block until that volume's
// table is published, so indexing can start before mapping completes.
type VolumeTables struct {
	known     chan struct{}
	knownOnce sync.Once

	mu    sync.RWMutex
	slots []*volumeSlot
	err   error
}

type volumeSlot struct {
	volume domain.Volume
	done   chan struct{}
	once   sync.Once
	table  *extents.Table
}

// NewVolumeTables creates an empty registry.
func NewVolumeTables() *VolumeTables {
	return &VolumeTables{known: make(chan struct{})}
}

// SetVolumes registers the volumes of the image. Lookups wait for this call.
func (t *VolumeTables) SetVolumes(volumes []domain.Volume) {
	slots := make([]*volumeSlot, len(volumes))
	for i, v := range volumes {
		slots[i] = &volumeSlot{volume: v, done: make(chan struct{})}
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].volume.Offset < slots[j].volume.Offset })

	t.mu.Lock()
	t.slots = slots
	t.mu.Unlock()

	t.knownOnce.Do(func() { close(t.known) })
}

// Fail releases all waiters with err. Used when the volumes of the image
// cannot be determined.
func (t *VolumeTables) Fail(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()

	t.knownOnce.Do(func() { close(t.known) })
}

// Publish makes the table of a volume available. A nil table marks the
// volume unmapped; its offsets resolve to unallocated. Publishing a
// volume twice keeps the first table.
func (t *VolumeTables) Publish(location string, table *extents.Table) {
	if table == nil {
		table = extents.Empty
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, s := range t.slots {
		if s.volume.Location == location {
			s.once.Do(func() {
				s.table = table
				close(s.done)
			})
			return
		}
	}
}

// Resolve maps a raw image offset to its volume and file location.
// Offsets outside every volume return an empty location and false.
func (t *VolumeTables) Resolve(ctx context.Context, offset int64) (string, domain.Location, bool, error) {
	select {
	case <-t.known:
	case <-ctx.Done():
		return "", domain.Location{}, false, ctx.Err()
	}

	t.mu.RLock()
	if t.err != nil {
		err := t.err
		t.mu.RUnlock()
		return "", domain.Location{}, false, err
	}
	slot := t.find(offset)
	t.mu.RUnlock()

	if slot == nil {
		return "", domain.Location{}, false, nil
	}

	select {
	case <-slot.done:
	case <-ctx.Done():
		return "", domain.Location{}, false, ctx.Err()
	}

	loc, ok := slot.table.Resolve(offset)
	return slot.volume.Location, loc, ok, nil
}

// find returns the nearest volume at or below offset that contains it.
// Callers hold t.mu.
func (t *VolumeTables) find(offset int64) *volumeSlot {
	i := sort.Search(len(t.slots), func(k int) bool { return t.slots[k].volume.Offset > offset })
	for i--; i >= 0; i-- {
		if t.slots[i].volume.Contains(offset) {
			return t.slots[i]
		}
	}
	return nil
}
