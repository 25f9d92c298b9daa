package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(batches.WithLabelValues(BatchRetry))
	Batch(BatchRetry)
	assert.Equal(t, before+1, testutil.ToFloat64(batches.WithLabelValues(BatchRetry)))

	allocBefore := testutil.ToFloat64(documentsIndexed.WithLabelValues("allocated"))
	unallocBefore := testutil.ToFloat64(documentsIndexed.WithLabelValues("unallocated"))
	DocumentsIndexed(3, 2)
	assert.Equal(t, allocBefore+3, testutil.ToFloat64(documentsIndexed.WithLabelValues("allocated")))
	assert.Equal(t, unallocBefore+2, testutil.ToFloat64(documentsIndexed.WithLabelValues("unallocated")))

	rejBefore := testutil.ToFloat64(extentsRejected)
	ExtentsBuilt(10, 1)
	assert.Equal(t, rejBefore+1, testutil.ToFloat64(extentsRejected))
}

func TestWriteFile(t *testing.T) {
	VolumeMapped("mapped")
	RecordMalformed()
	Query("search")
	StageDuration("indexing", time.Now().Add(-time.Second))

	path := filepath.Join(t.TempDir(), "dfdewey.prom")
	require.NoError(t, WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dfdewey_mapping_volumes_total")
	assert.Contains(t, string(data), "dfdewey_index_records_malformed_total")
	assert.Contains(t, string(data), "dfdewey_search_queries_total")
	assert.Contains(t, string(data), `dfdewey_stage_duration_seconds_total{stage="indexing"}`)
}
