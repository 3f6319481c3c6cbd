package workerpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpyAccumulatesWithinWindow(t *testing.T) {
	s := newSpy()
	s.Report(1.5)
	s.Report(2.5)

	sum, count := s.Snapshot()
	require.Equal(t, 4.0, sum)
	require.Equal(t, int64(2), count)
}

func TestSpyEmptyByDefault(t *testing.T) {
	s := newSpy()
	sum, count := s.Snapshot()
	require.Equal(t, 0.0, sum)
	require.Equal(t, int64(0), count)
}
