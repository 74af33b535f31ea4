package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fedineko/crabo/internal/snapshot"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	var clk snapshot.Clock = New()

	before := time.Now().Add(-time.Second)
	got := clk.Now()
	after := time.Now().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "now %v outside [%v, %v]", got, before, after)
}

func TestClockNowNonDecreasing(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	require.False(t, clk.Now().Before(first))
}
