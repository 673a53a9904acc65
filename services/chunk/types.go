package chunk

import (
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// Mesh is one LOD variant of a chunk's geometry: a triangulated quad grid
// with per-vertex normals, ready for the rendering layer to upload.
type Mesh struct {
	// Level is the LOD index; Stride is 2^Level, the step used to walk the
	// full-resolution height grid when this variant was built.
	Level  int
	Stride int

	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Indices   []uint32
}

// TriangleCount reports how many triangles the index buffer describes.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// VertexCount reports how many vertices the mesh holds, skirts included.
func (m *Mesh) VertexCount() int {
	return len(m.Positions)
}

// Chunk is a fixed-size terrain tile, the unit of streaming and caching.
// A chunk is built once by the geometry builder and published atomically
// into the streaming cache; it is never mutated afterwards, so concurrent
// readers need no locking. The last-access stamp is the only exception and
// is kept atomic for that reason.
type Chunk struct {
	Coord   Coord
	OriginX float64
	OriginZ float64
	// Size is the world-space width of the tile along each axis.
	Size float64
	// Resolution is the cell count per side; Heights stores the full
	// (Resolution+1)^2 sample grid row-major, both edges included, which
	// is what makes edge samples bit-identical between neighbors.
	Resolution int
	Heights    []float64
	// Meshes holds one entry per LOD level, ordered finest first. Every
	// variant strides the same Heights grid; none re-samples the field.
	Meshes []Mesh

	GeneratedAt time.Time

	lastAccess atomic.Int64
}

// HeightAt returns the raw sample at grid node (i, j). Callers index within
// [0, Resolution] on both axes.
func (c *Chunk) HeightAt(i, j int) float64 {
	return c.Heights[j*(c.Resolution+1)+i]
}

// SampleSpacing is the world distance between adjacent height samples.
func (c *Chunk) SampleSpacing() float64 {
	return c.Size / float64(c.Resolution)
}

// CenterX and CenterZ locate the tile midpoint, used for LOD distance.
func (c *Chunk) CenterX() float64 { return c.OriginX + c.Size/2 }
func (c *Chunk) CenterZ() float64 { return c.OriginZ + c.Size/2 }

// Touch stamps the chunk as recently read.
func (c *Chunk) Touch() {
	c.lastAccess.Store(time.Now().UnixNano())
}

// LastAccess reports when the chunk was last read, zero if never.
func (c *Chunk) LastAccess() time.Time {
	ns := c.lastAccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
