package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferAppendAssignsIncreasingSeq(t *testing.T) {
	b := New[int](3)
	s1 := b.Append(10)
	s2 := b.Append(20)
	require.Equal(t, uint64(1), s1)
	require.Equal(t, uint64(2), s2)
	require.Equal(t, 2, b.Len())
}

func TestBufferOverwritesOldestWhenFull(t *testing.T) {
	b := New[int](2)
	b.Append(1)
	b.Append(2)
	b.Append(3) // overwrites 1

	items := b.All()
	require.Equal(t, []int{2, 3}, items)
	require.Equal(t, 2, b.Len())

	oldest, ok := b.OldestSeq()
	require.True(t, ok)
	require.Equal(t, uint64(2), oldest)
}

func TestBufferSinceReturnsOnlyNewerItems(t *testing.T) {
	b := New[string](5)
	b.Append("a")
	s2 := b.Append("b")
	b.Append("c")

	items, cursor, gap := b.Since(s2, 0)
	require.False(t, gap)
	require.Equal(t, []string{"c"}, items)
	require.Equal(t, s2+1, cursor)
}

func TestBufferSinceDetectsGap(t *testing.T) {
	b := New[int](2)
	b.Append(1)
	b.Append(2)
	b.Append(3) // 1 falls out

	items, cursor, gap := b.Since(1, 0)
	require.True(t, gap)
	require.Equal(t, []int{2, 3}, items)
	require.Equal(t, uint64(3), cursor)
}

func TestBufferEmptySince(t *testing.T) {
	b := New[int](2)
	items, cursor, gap := b.Since(0, 0)
	require.Nil(t, items)
	require.Equal(t, uint64(0), cursor)
	require.False(t, gap)
}

func TestBufferSinceRespectsLimit(t *testing.T) {
	b := New[int](5)
	for i := 1; i <= 5; i++ {
		b.Append(i)
	}

	items, cursor, gap := b.Since(0, 2)
	require.False(t, gap)
	require.Equal(t, []int{1, 2}, items)
	require.Equal(t, uint64(2), cursor, "cursor is the last item actually returned, not the ring's latest")
}

// TestBufferSinceAcrossOverflowMatchesDeltaFetchScenario exercises spec
// §8 scenario 4 verbatim: capacity 4, insert sequences 1..8, then
// eventsSince(2, 100) must return {5,6,7,8} with newCursor 8.
func TestBufferSinceAcrossOverflowMatchesDeltaFetchScenario(t *testing.T) {
	b := New[int](4)
	for i := 1; i <= 8; i++ {
		b.Append(i)
	}

	items, cursor, gap := b.Since(2, 100)
	require.True(t, gap, "sinceSeq 2 is older than the oldest retained sequence 5")
	require.Equal(t, []int{5, 6, 7, 8}, items)
	require.Equal(t, uint64(8), cursor)
}

func TestBufferSinceNoGapWhenCursorWithinRetainedRange(t *testing.T) {
	b := New[int](4)
	for i := 1; i <= 8; i++ {
		b.Append(i)
	}

	items, cursor, gap := b.Since(6, 100)
	require.False(t, gap)
	require.Equal(t, []int{7, 8}, items)
	require.Equal(t, uint64(8), cursor)
}
