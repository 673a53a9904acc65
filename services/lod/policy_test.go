package lod

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VoidMesh/terrain/config"
)

func testPolicy() *Policy {
	return NewPolicy(config.LodConfig{
		Thresholds: []float64{20, 50},
		Hysteresis: 2.0,
	})
}

func TestNewPolicyLevels(t *testing.T) {
	p := testPolicy()

	levels := p.Levels()
	require.Len(t, levels, 3)
	assert.Equal(t, 3, p.LevelCount())

	assert.Equal(t, Level{ID: 0, Stride: 1, MinDistance: 0, MaxDistance: 20}, levels[0])
	assert.Equal(t, Level{ID: 1, Stride: 2, MinDistance: 20, MaxDistance: 50}, levels[1])
	assert.Equal(t, 2, levels[2].ID)
	assert.Equal(t, 4, levels[2].Stride)
	assert.Equal(t, 50.0, levels[2].MinDistance)
	assert.True(t, math.IsInf(levels[2].MaxDistance, 1))
}

func TestSelectLevel(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		name     string
		distance float64
		want     int
	}{
		{name: "at viewer", distance: 0, want: 0},
		{name: "inside finest band", distance: 19.99, want: 0},
		{name: "exactly on first threshold", distance: 20, want: 1},
		{name: "inside middle band", distance: 35, want: 1},
		{name: "exactly on second threshold", distance: 50, want: 2},
		{name: "far away", distance: 10000, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.SelectLevel(tt.distance))
		})
	}
}

func TestSelectLevelMonotonic(t *testing.T) {
	p := testPolicy()

	prev := 0
	for d := 0.0; d <= 200.0; d += 0.25 {
		level := p.SelectLevel(d)
		assert.GreaterOrEqual(t, level, prev, "level regressed at distance %v", d)
		prev = level
	}
}

func TestSelectLevelStable(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		name     string
		distance float64
		current  int
		want     int
	}{
		{
			name:     "holds fine level just past threshold",
			distance: 21, current: 0, want: 0,
		},
		{
			name:     "coarsens once clear of the band",
			distance: 22.5, current: 0, want: 1,
		},
		{
			name:     "holds coarse level just under threshold",
			distance: 19, current: 1, want: 1,
		},
		{
			name:     "refines once clear of the band",
			distance: 17.5, current: 1, want: 0,
		},
		{
			name:     "agrees with raw selection deep inside a band",
			distance: 35, current: 0, want: 1,
		},
		{
			name:     "no change when raw matches current",
			distance: 35, current: 1, want: 1,
		},
		{
			name:     "skipping a whole band still coarsens",
			distance: 100, current: 0, want: 2,
		},
		{
			name:     "invalid current falls back to raw selection",
			distance: 35, current: -1, want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.SelectLevelStable(tt.distance, tt.current))
		})
	}
}

func TestSelectLevelStableNoOscillation(t *testing.T) {
	p := testPolicy()

	// Walk back and forth across the first threshold inside the band.
	level := p.SelectLevel(19)
	for i := 0; i < 50; i++ {
		d := 19.5
		if i%2 == 0 {
			d = 20.5
		}
		next := p.SelectLevelStable(d, level)
		assert.Equal(t, level, next, "level flipped at step %d", i)
		level = next
	}
}

func TestZeroHysteresisMatchesRawSelection(t *testing.T) {
	p := NewPolicy(config.LodConfig{Thresholds: []float64{20, 50}, Hysteresis: 0})

	for d := 0.0; d <= 100.0; d += 0.5 {
		for current := 0; current < p.LevelCount(); current++ {
			assert.Equal(t, p.SelectLevel(d), p.SelectLevelStable(d, current),
				"distance %v current %d", d, current)
		}
	}
}
