package heightfield

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VoidMesh/terrain/config"
)

func testNoiseConfig(seed int64) config.NoiseConfig {
	return config.NoiseConfig{
		Seed:            seed,
		Octaves:         5,
		Frequency:       0.01,
		Persistence:     0.5,
		Lacunarity:      2.0,
		DetailAmplitude: 0.15,
		DetailFrequency: 0.08,
	}
}

func TestHeightDeterminism(t *testing.T) {
	a := New(testNoiseConfig(42), 64)
	b := New(testNoiseConfig(42), 64)

	points := [][2]float64{
		{0, 0}, {1.5, -3.25}, {1000, 1000}, {-512.75, 8192.5}, {0.001, -0.001},
	}

	for _, p := range points {
		h1 := a.Height(p[0], p[1])
		h2 := a.Height(p[0], p[1])
		h3 := b.Height(p[0], p[1])

		// Same field twice and a second field with the same seed must be
		// bit-identical, not merely close.
		assert.Equal(t, h1, h2, "point (%v, %v)", p[0], p[1])
		assert.Equal(t, h1, h3, "point (%v, %v)", p[0], p[1])
	}
}

func TestHeightDiffersAcrossSeeds(t *testing.T) {
	a := New(testNoiseConfig(1), 64)
	b := New(testNoiseConfig(2), 64)

	differs := false
	for x := -50.0; x <= 50.0; x += 7.3 {
		for z := -50.0; z <= 50.0; z += 7.3 {
			if a.Height(x, z) != b.Height(x, z) {
				differs = true
			}
		}
	}
	assert.True(t, differs, "different seeds should produce different terrain")
}

func TestHeightRange(t *testing.T) {
	tests := []struct {
		name      string
		maxHeight float64
	}{
		{name: "default ceiling", maxHeight: 64},
		{name: "tall ceiling", maxHeight: 512},
		{name: "flat world", maxHeight: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(testNoiseConfig(1337), tt.maxHeight)

			for x := -200.0; x <= 200.0; x += 13.7 {
				for z := -200.0; z <= 200.0; z += 13.7 {
					h := f.Height(x, z)
					assert.GreaterOrEqual(t, h, 0.0, "height below floor at (%v, %v)", x, z)
					assert.LessOrEqual(t, h, tt.maxHeight, "height above ceiling at (%v, %v)", x, z)
				}
			}
		})
	}
}

func TestHeightConcurrentAccess(t *testing.T) {
	f := New(testNoiseConfig(7), 64)
	want := f.Height(12.5, -42.25)

	var wg sync.WaitGroup
	results := make([]float64, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.Height(12.5, -42.25)
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		assert.Equal(t, want, got, "goroutine %d", i)
	}
}

func TestHeightWithoutDetailLayer(t *testing.T) {
	cfg := testNoiseConfig(99)
	cfg.DetailAmplitude = 0

	f := New(cfg, 64)
	require.Nil(t, f.detail)

	h := f.Height(10, 10)
	assert.GreaterOrEqual(t, h, 0.0)
	assert.LessOrEqual(t, h, 64.0)
}

func TestAccessors(t *testing.T) {
	f := New(testNoiseConfig(555), 128)
	assert.Equal(t, int64(555), f.Seed())
	assert.Equal(t, 128.0, f.MaxHeight())
}
