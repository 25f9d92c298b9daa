package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageState_IsValid(t *testing.T) {
	for _, s := range []ImageState{ImageUnprocessed, ImageMapping, ImageMapped, ImageIndexing, ImageIndexed, ImageFailed} {
		assert.True(t, s.IsValid(), s.String())
	}
	assert.False(t, ImageState("done").IsValid())
}

func TestImageState_IsMapped(t *testing.T) {
	tests := []struct {
		state    ImageState
		expected bool
	}{
		{ImageUnprocessed, false},
		{ImageMapping, false},
		{ImageMapped, true},
		{ImageIndexing, true},
		{ImageIndexed, true},
		{ImageFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.IsMapped())
		})
	}
}

func TestStage_Remedy(t *testing.T) {
	assert.Equal(t, "--reparse", StageMapping.Remedy())
	assert.Equal(t, "--reindex", StageIndexing.Remedy())
	assert.Equal(t, "--delete", StageDelete.Remedy())
	assert.Empty(t, StageNone.Remedy())
}

func TestImage_StaleStage(t *testing.T) {
	tests := []struct {
		name     string
		image    Image
		expected Stage
	}{
		{"unprocessed", Image{State: ImageUnprocessed}, StageNone},
		{"interrupted mapping", Image{State: ImageMapping}, StageMapping},
		{"mapped", Image{State: ImageMapped}, StageNone},
		{"interrupted indexing", Image{State: ImageIndexing}, StageIndexing},
		{"indexed", Image{State: ImageIndexed}, StageNone},
		{"failed indexing", Image{State: ImageFailed, FailedStage: StageIndexing}, StageIndexing},
		{"failed mapping", Image{State: ImageFailed, FailedStage: StageMapping}, StageMapping},
		{"interrupted delete", Image{State: ImageFailed, FailedStage: StageDelete}, StageDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.image.StaleStage())
		})
	}
}

func TestImage_Mapped(t *testing.T) {
	assert.True(t, (&Image{State: ImageIndexed}).Mapped())
	assert.True(t, (&Image{State: ImageFailed, FailedStage: StageIndexing}).Mapped())
	assert.False(t, (&Image{State: ImageFailed, FailedStage: StageDelete}).Mapped())
	assert.False(t, (&Image{State: ImageFailed, FailedStage: StageMapping}).Mapped())
	assert.False(t, (&Image{State: ImageUnprocessed}).Mapped())
}
