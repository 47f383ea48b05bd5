package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumInstances(t *testing.T) {
	t.Run("literal", func(t *testing.T) {
		var mi MultiInstanceSpec
		err := json.Unmarshal([]byte(`{"num_instances": 4}`), &mi)
		require.NoError(t, err)
		assert.True(t, mi.NumInstances.IsLiteral())
		assert.Equal(t, 4, mi.NumInstances.Literal)
	})

	t.Run("symbolic", func(t *testing.T) {
		var mi MultiInstanceSpec
		err := json.Unmarshal([]byte(`{"num_instances": "pool_current_dedicated"}`), &mi)
		require.NoError(t, err)
		assert.False(t, mi.NumInstances.IsLiteral())
		assert.Equal(t, NumInstancesPoolCurrentDedicated, mi.NumInstances.Symbol)
	})

	t.Run("neither integer nor string", func(t *testing.T) {
		var mi MultiInstanceSpec
		err := json.Unmarshal([]byte(`{"num_instances": {"n": 2}}`), &mi)
		assert.Error(t, err)
	})

	t.Run("marshal keeps the form", func(t *testing.T) {
		b, err := json.Marshal(NumInstances{Literal: 3})
		require.NoError(t, err)
		assert.Equal(t, "3", string(b))

		b, err = json.Marshal(NumInstances{Symbol: NumInstancesPoolCurrentDedicated})
		require.NoError(t, err)
		assert.Equal(t, `"pool_current_dedicated"`, string(b))
	})
}

func TestResolvedTaskID(t *testing.T) {
	assert.Equal(t, "job1-task-0", ResolvedTaskID("job1", 0, TaskSpec{}))
	assert.Equal(t, "preprocess", ResolvedTaskID("job1", 0, TaskSpec{ID: "preprocess"}))
	assert.Equal(t, "job1-task-7", GeneratedTaskID("job1", 7))
}

func TestResourceFilePlaceholder(t *testing.T) {
	// Legacy documents carry all-empty entries meaning "none".
	assert.True(t, ResourceFile{}.IsPlaceholder())
	assert.False(t, ResourceFile{BlobSource: "https://acct.blob.core.windows.net/c/run.sh"}.IsPlaceholder())
	assert.False(t, ResourceFile{FileMode: "0755"}.IsPlaceholder())
}
