package diff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamvault/teamvault/internal/diff"
)

func TestComputeClassification(t *testing.T) {
	t.Parallel()

	old := map[string]string{"A": "1", "B": "2"}
	new := map[string]string{"B": "3", "C": "4"}

	r := diff.Compute(old, new)
	require.Len(t, r.Entries, 3)

	assert.Equal(t, "A", r.Entries[0].Key)
	assert.Equal(t, diff.Removed, r.Entries[0].Status)
	assert.Equal(t, "1", r.Entries[0].Old)

	assert.Equal(t, "B", r.Entries[1].Key)
	assert.Equal(t, diff.Changed, r.Entries[1].Status)
	assert.Equal(t, "2", r.Entries[1].Old)
	assert.Equal(t, "3", r.Entries[1].New)

	assert.Equal(t, "C", r.Entries[2].Key)
	assert.Equal(t, diff.Added, r.Entries[2].Status)
	assert.Equal(t, "4", r.Entries[2].New)
}

func TestComputeUnchanged(t *testing.T) {
	t.Parallel()

	same := map[string]string{"A": "1", "B": "2"}
	r := diff.Compute(same, map[string]string{"A": "1", "B": "2"})

	require.Len(t, r.Entries, 2)
	for _, e := range r.Entries {
		assert.Equal(t, diff.Unchanged, e.Status, e.Key)
	}
	assert.False(t, r.Changed())
}

func TestComputeEmptySides(t *testing.T) {
	t.Parallel()

	r := diff.Compute(nil, map[string]string{"A": "1"})
	require.Len(t, r.Entries, 1)
	assert.Equal(t, diff.Added, r.Entries[0].Status)

	r = diff.Compute(map[string]string{"A": "1"}, nil)
	require.Len(t, r.Entries, 1)
	assert.Equal(t, diff.Removed, r.Entries[0].Status)

	r = diff.Compute(nil, nil)
	assert.Empty(t, r.Entries)
	assert.False(t, r.Changed())
}

func TestComputeSortedByKey(t *testing.T) {
	t.Parallel()

	r := diff.Compute(nil, map[string]string{"ZED": "1", "ALPHA": "2", "MID": "3"})
	require.Len(t, r.Entries, 3)
	assert.Equal(t, "ALPHA", r.Entries[0].Key)
	assert.Equal(t, "MID", r.Entries[1].Key)
	assert.Equal(t, "ZED", r.Entries[2].Key)
}

func TestCounts(t *testing.T) {
	t.Parallel()

	r := diff.Compute(
		map[string]string{"A": "1", "B": "2", "C": "3"},
		map[string]string{"B": "9", "C": "3", "D": "4", "E": "5"},
	)
	added, removed, changed := r.Counts()
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, changed)
	assert.True(t, r.Changed())
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "added", diff.Added.String())
	assert.Equal(t, "removed", diff.Removed.String())
	assert.Equal(t, "changed", diff.Changed.String())
	assert.Equal(t, "unchanged", diff.Unchanged.String())
}
