package change

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/treesync/internal/core/tree"
)

func leaf(v any) tree.Node { return tree.NewLeaf(v, nil) }

func TestAccumulatorCombinations(t *testing.T) {
	tests := []struct {
		name   string
		first  Change
		second Change
		want   []Change
	}{
		{
			name:   "removed then added is changed",
			first:  NewChildRemoved("a", leaf(1)),
			second: NewChildAdded("a", leaf(2)),
			want:   []Change{NewChildChanged("a", leaf(2), leaf(1))},
		},
		{
			name:   "added then removed cancels out",
			first:  NewChildAdded("a", leaf(1)),
			second: NewChildRemoved("a", leaf(1)),
			want:   []Change{},
		},
		{
			name:   "changed then removed removes the original",
			first:  NewChildChanged("a", leaf(2), leaf(1)),
			second: NewChildRemoved("a", leaf(2)),
			want:   []Change{NewChildRemoved("a", leaf(1))},
		},
		{
			name:   "added then changed is added",
			first:  NewChildAdded("a", leaf(1)),
			second: NewChildChanged("a", leaf(2), leaf(1)),
			want:   []Change{NewChildAdded("a", leaf(2))},
		},
		{
			name:   "changed twice keeps the first old value",
			first:  NewChildChanged("a", leaf(2), leaf(1)),
			second: NewChildChanged("a", leaf(3), leaf(2)),
			want:   []Change{NewChildChanged("a", leaf(3), leaf(1))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator()
			acc.TrackChildChange(tt.first)
			acc.TrackChildChange(tt.second)

			got := acc.Changes()
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.Equal(t, tt.want[i].Kind, got[i].Kind)
				assert.Equal(t, tt.want[i].ChildName, got[i].ChildName)
				assert.True(t, tt.want[i].Snapshot.Equal(got[i].Snapshot))
				if tt.want[i].OldSnapshot != nil {
					assert.True(t, tt.want[i].OldSnapshot.Equal(got[i].OldSnapshot))
				}
			}
		})
	}
}

func TestAccumulatorIllegalCombinations(t *testing.T) {
	illegal := [][2]Change{
		{NewChildAdded("a", leaf(1)), NewChildAdded("a", leaf(2))},
		{NewChildRemoved("a", leaf(1)), NewChildRemoved("a", leaf(1))},
		{NewChildRemoved("a", leaf(1)), NewChildChanged("a", leaf(2), leaf(1))},
		{NewChildChanged("a", leaf(2), leaf(1)), NewChildAdded("a", leaf(3))},
	}
	for _, pair := range illegal {
		acc := NewAccumulator()
		acc.TrackChildChange(pair[0])
		assert.Panics(t, func() { acc.TrackChildChange(pair[1]) }, "%s after %s", pair[1], pair[0])
	}

	assert.Panics(t, func() { NewAccumulator().TrackChildChange(NewValue(leaf(1))) })
	assert.Panics(t, func() { NewAccumulator().TrackChildChange(NewChildAdded(".priority", leaf(1))) })
}

func TestAccumulatorKeepsFirstTouchOrder(t *testing.T) {
	acc := NewAccumulator()
	acc.TrackChildChange(NewChildAdded("b", leaf(1)))
	acc.TrackChildChange(NewChildAdded("a", leaf(1)))
	acc.TrackChildChange(NewChildAdded("c", leaf(1)))
	acc.TrackChildChange(NewChildChanged("b", leaf(2), leaf(1)))
	acc.TrackChildChange(NewChildRemoved("a", leaf(1)))

	got := acc.Changes()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ChildName)
	assert.Equal(t, ChildAdded, got[0].Kind)
	assert.Equal(t, "c", got[1].ChildName)
	assert.Equal(t, 2, acc.Len())
}

func TestKindOrder(t *testing.T) {
	for i := 1; i < len(Kinds); i++ {
		assert.Less(t, Kinds[i-1], Kinds[i])
	}
	assert.Equal(t, "child_moved", ChildMoved.String())
}
