package heightquery

import (
	"github.com/VoidMesh/terrain/services/chunk"
	"github.com/VoidMesh/terrain/services/heightfield"
)

// ChunkSource is the read side of the streaming cache. The concrete
// implementation is the streaming manager; tests inject fakes.
type ChunkSource interface {
	ChunkAt(coord chunk.Coord) *chunk.Chunk
}

// Service answers arbitrary-point elevation queries for gameplay code,
// independent of rendering LOD. Queries against a loaded chunk read the
// raw full-resolution samples, never the LOD-reduced meshes, so collision
// and placement results are identical at every camera distance. When no
// chunk covers the point the service evaluates the height field directly:
// slower, but always correct, so a query never fails even right after a
// teleport that streaming has not caught up with.
//
// The service holds no mutable state and is safe to call from any consumer
// at any time.
type Service struct {
	source    ChunkSource
	field     heightfield.Interface
	chunkSize float64
}

// NewService wires the query service to the chunk cache and its fallback.
func NewService(source ChunkSource, field heightfield.Interface, chunkSize float64) *Service {
	return &Service{
		source:    source,
		field:     field,
		chunkSize: chunkSize,
	}
}

// GetHeight returns the terrain elevation at a world position. Points
// covered by a loaded chunk bilinearly interpolate the four nearest raw
// samples; a query exactly on a sample node returns that stored value.
func (s *Service) GetHeight(worldX, worldZ float64) float64 {
	coord := chunk.WorldToCoord(worldX, worldZ, s.chunkSize)
	c := s.source.ChunkAt(coord)
	if c == nil {
		return s.field.Height(worldX, worldZ)
	}
	return interpolate(c, worldX, worldZ)
}

// Covered reports whether a loaded chunk backs the position, mostly for
// telemetry; GetHeight works either way.
func (s *Service) Covered(worldX, worldZ float64) bool {
	return s.source.ChunkAt(chunk.WorldToCoord(worldX, worldZ, s.chunkSize)) != nil
}

// interpolate reads the chunk's raw sample grid at the cell containing the
// point and blends the four corners bilinearly.
func interpolate(c *chunk.Chunk, worldX, worldZ float64) float64 {
	spacing := c.SampleSpacing()
	fx := (worldX - c.OriginX) / spacing
	fz := (worldZ - c.OriginZ) / spacing

	i := clampInt(int(fx), 0, c.Resolution-1)
	j := clampInt(int(fz), 0, c.Resolution-1)

	tx := fx - float64(i)
	tz := fz - float64(j)

	h00 := c.HeightAt(i, j)
	h10 := c.HeightAt(i+1, j)
	h01 := c.HeightAt(i, j+1)
	h11 := c.HeightAt(i+1, j+1)

	south := h00*(1-tx) + h10*tx
	north := h01*(1-tx) + h11*tx
	return south*(1-tz) + north*tz
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
