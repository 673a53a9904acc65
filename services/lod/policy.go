package lod

import (
	"math"

	"github.com/VoidMesh/terrain/config"
)

// Level describes one geometry variant of a chunk.
type Level struct {
	ID int
	// Stride is the step taken over the full-resolution height grid when
	// building this level, always 2^ID.
	Stride int
	// MinDistance and MaxDistance bound the viewer distance at which this
	// level is active. The coarsest level has MaxDistance +Inf.
	MinDistance float64
	MaxDistance float64
}

// Policy maps viewer-to-chunk distance onto a discrete LOD index using an
// ordered table of increasing thresholds. Selection is monotonic
// non-decreasing in distance; the stable variant adds a hysteresis band so
// a viewer lingering near a boundary does not flip levels every frame.
type Policy struct {
	levels     []Level
	hysteresis float64
}

// NewPolicy derives the level table from validated configuration.
func NewPolicy(cfg config.LodConfig) *Policy {
	levels := make([]Level, len(cfg.Thresholds)+1)
	min := 0.0
	for i := range levels {
		max := math.Inf(1)
		if i < len(cfg.Thresholds) {
			max = cfg.Thresholds[i]
		}
		levels[i] = Level{
			ID:          i,
			Stride:      1 << i,
			MinDistance: min,
			MaxDistance: max,
		}
		min = max
	}
	return &Policy{levels: levels, hysteresis: cfg.Hysteresis}
}

// Levels returns the derived level table, finest first.
func (p *Policy) Levels() []Level {
	return p.levels
}

// LevelCount returns how many LOD variants the policy selects between.
func (p *Policy) LevelCount() int {
	return len(p.levels)
}

// SelectLevel returns the LOD index active at the given distance.
func (p *Policy) SelectLevel(distance float64) int {
	for i := range p.levels {
		if distance < p.levels[i].MaxDistance {
			return i
		}
	}
	return len(p.levels) - 1
}

// SelectLevelStable behaves like SelectLevel but keeps the current level
// while the distance stays inside the hysteresis band around the crossed
// threshold: coarsening requires moving past the upper bound by the band,
// refining requires moving below the lower bound by the band.
func (p *Policy) SelectLevelStable(distance float64, current int) int {
	if current < 0 || current >= len(p.levels) {
		return p.SelectLevel(distance)
	}

	raw := p.SelectLevel(distance)
	if raw > current && distance < p.levels[current].MaxDistance+p.hysteresis {
		return current
	}
	if raw < current && distance > p.levels[current].MinDistance-p.hysteresis {
		return current
	}
	return raw
}
