package flap_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zinolabs/zino/internal/zino/flap"
	"github.com/zinolabs/zino/internal/zino/model"
)

func TestFL2_UpdateCapsAtCeiling(t *testing.T) {
	t.Parallel()
	var s model.FlappingState
	now := time.Now()
	for range 20 {
		s = flap.Update(s, now)
		now = now.Add(time.Second)
	}
	assert.LessOrEqual(t, s.HistVal, flap.Ceiling)
	assert.InDelta(t, flap.Ceiling, s.HistVal, 0.001)
}

func TestFL1_QuietInterfaceIsNotFlapping(t *testing.T) {
	t.Parallel()
	s := model.FlappingState{}
	now := time.Now()
	s = flap.Update(s, now)
	// Drive above threshold with rapid flaps.
	for range 10 {
		now = now.Add(time.Second)
		s = flap.Update(s, now)
	}
	assert.Greater(t, s.HistVal, flap.Threshold)

	// The quiet duration guaranteed to decay any score below Min:
	// log2(Ceiling/Min) * DecrementIntervalSeconds / |log2(Decrement)|
	quietSeconds := math.Log2(flap.Ceiling/flap.Min) * flap.DecrementIntervalSec / math.Abs(math.Log2(flap.Decrement))
	later := now.Add(time.Duration(quietSeconds) * time.Second).Add(time.Minute)

	assert.False(t, flap.IsFlapping(&s, later))
}

func TestFirstFlapInitializesState(t *testing.T) {
	t.Parallel()
	var s model.FlappingState
	now := time.Now()
	s = flap.Update(s, now)
	assert.Equal(t, flap.InitVal, s.HistVal)
	assert.Equal(t, 1, s.Flaps)
}

func TestAgeIsANoOpWithoutPriorActivity(t *testing.T) {
	t.Parallel()
	var s model.FlappingState
	now := time.Now()
	s = flap.Age(s, now)
	assert.Zero(t, s.HistVal)
}

func TestTrackerUnflapRemovesRecord(t *testing.T) {
	t.Parallel()
	tr := flap.NewTracker(nil)
	key := flap.Key{Device: "rtr-a", IfIndex: 2}
	now := time.Now()
	tr.Update(key, now)
	_, ok := tr.Get(key)
	assert.True(t, ok)
	tr.Unflap(key)
	_, ok = tr.Get(key)
	assert.False(t, ok)
}
