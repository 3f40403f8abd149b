package testing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPairUserIDs(t *testing.T) {
	userIDs := []int64{0, 1, 2, 3, 4, 5}
	batches := PairUserIDs(userIDs)
	require.Equal(t, [][]int64{{0, 1}, {0, 2}, {0, 3}, {0, 4}, {0, 5}}, batches)
}

func TestRoomFixture(t *testing.T) {
	r := Room("r1", "Loft", 3)
	require.Len(t, r.Messages, 3)
	require.Equal(t, r.Messages[2].Content, r.LastMessage)
	require.Equal(t, Epoch.Add(2*time.Minute), r.Timestamp)
}
