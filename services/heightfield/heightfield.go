package heightfield

import (
	"github.com/aquilax/go-perlin"
	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/VoidMesh/terrain/config"
)

// Interface defines the elevation function consumed by the geometry builder
// and the height query fallback. This enables dependency injection and makes
// the downstream services easily testable.
type Interface interface {
	// Height maps a world position to elevation in [0, MaxHeight]. It is a
	// pure function of the seed and noise parameters: identical inputs give
	// bit-identical output regardless of caller, chunk, or goroutine, which
	// is what guarantees seam continuity at shared chunk boundaries.
	Height(worldX, worldZ float64) float64
	Seed() int64
	MaxHeight() float64
}

// Field implements Interface as a sum of coherent perlin octaves with an
// optional simplex detail layer. It holds no mutable state after
// construction and is safe for concurrent use.
type Field struct {
	noise  *perlin.Perlin
	detail opensimplex.Noise
	cfg    config.NoiseConfig

	maxHeight float64
	// norm is the sum of octave amplitudes plus the detail weight, so the
	// combined signal stays within [-1, 1] before scaling.
	norm float64
}

// New creates a height field from validated noise parameters.
func New(cfg config.NoiseConfig, maxHeight float64) *Field {
	amplitudeSum := 0.0
	amplitude := 1.0
	for i := 0; i < cfg.Octaves; i++ {
		amplitudeSum += amplitude
		amplitude *= cfg.Persistence
	}

	f := &Field{
		noise:     perlin.NewPerlin(2, 2, 3, cfg.Seed),
		cfg:       cfg,
		maxHeight: maxHeight,
		norm:      amplitudeSum,
	}
	if cfg.DetailAmplitude > 0 {
		f.detail = opensimplex.New(cfg.Seed)
		f.norm += cfg.DetailAmplitude
	}
	return f
}

// Height implements Interface.
func (f *Field) Height(worldX, worldZ float64) float64 {
	frequency := f.cfg.Frequency
	amplitude := 1.0
	sum := 0.0
	for i := 0; i < f.cfg.Octaves; i++ {
		sum += amplitude * f.noise.Noise2D(worldX*frequency, worldZ*frequency)
		amplitude *= f.cfg.Persistence
		frequency *= f.cfg.Lacunarity
	}

	if f.detail != nil {
		sum += f.cfg.DetailAmplitude * f.detail.Eval2(worldX*f.cfg.DetailFrequency, worldZ*f.cfg.DetailFrequency)
	}

	// Normalized signal is in [-1, 1]; remap to [0, MaxHeight].
	return (sum/f.norm + 1) * 0.5 * f.maxHeight
}

// Seed returns the generation seed.
func (f *Field) Seed() int64 {
	return f.cfg.Seed
}

// MaxHeight returns the configured elevation ceiling.
func (f *Field) MaxHeight() float64 {
	return f.maxHeight
}
