package geometry

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/VoidMesh/terrain/config"
	"github.com/VoidMesh/terrain/services/chunk"
	"github.com/VoidMesh/terrain/services/heightfield"
	"github.com/VoidMesh/terrain/services/lod"
)

// BuilderInterface defines chunk construction for dependency injection; the
// streaming manager and tests consume it rather than the concrete builder.
type BuilderInterface interface {
	// Build samples the height field over the chunk footprint and produces
	// every LOD mesh variant.
	Build(coord chunk.Coord) *chunk.Chunk
	// FromHeights builds the same chunk from an already sampled grid, the
	// fast path used when the chunk store has the raw samples cached.
	FromHeights(coord chunk.Coord, heights []float64) *chunk.Chunk
}

// Builder turns chunk coordinates into immutable Chunk values. The full
// resolution grid is sampled exactly once per chunk; every coarser LOD
// strides over those same samples, so LOD k is a strict sub-sample of LOD 0
// and generation cost is dominated by the finest level.
type Builder struct {
	field      heightfield.Interface
	chunkSize  float64
	resolution int
	levels     []lod.Level
	skirtDepth float64
}

// NewBuilder wires a builder from validated configuration and the LOD level
// table derived by the policy.
func NewBuilder(field heightfield.Interface, cfg config.TerrainConfig, levels []lod.Level) *Builder {
	return &Builder{
		field:      field,
		chunkSize:  cfg.ChunkSize,
		resolution: cfg.Resolution,
		levels:     levels,
		skirtDepth: cfg.SkirtDepth,
	}
}

// Build implements BuilderInterface.
func (b *Builder) Build(coord chunk.Coord) *chunk.Chunk {
	originX, originZ := chunk.Origin(coord, b.chunkSize)
	spacing := b.chunkSize / float64(b.resolution)

	// (resolution+1)^2 samples, both edges included. Edge samples land on
	// the same world coordinates as the neighbor chunk's edge samples, and
	// the field is pure, so shared boundaries agree bit for bit.
	side := b.resolution + 1
	heights := make([]float64, side*side)
	for j := 0; j < side; j++ {
		worldZ := originZ + float64(j)*spacing
		for i := 0; i < side; i++ {
			heights[j*side+i] = b.field.Height(originX+float64(i)*spacing, worldZ)
		}
	}

	return b.FromHeights(coord, heights)
}

// FromHeights implements BuilderInterface.
func (b *Builder) FromHeights(coord chunk.Coord, heights []float64) *chunk.Chunk {
	originX, originZ := chunk.Origin(coord, b.chunkSize)

	c := &chunk.Chunk{
		Coord:       coord,
		OriginX:     originX,
		OriginZ:     originZ,
		Size:        b.chunkSize,
		Resolution:  b.resolution,
		Heights:     heights,
		Meshes:      make([]chunk.Mesh, 0, len(b.levels)),
		GeneratedAt: time.Now(),
	}

	for _, level := range b.levels {
		c.Meshes = append(c.Meshes, b.buildMesh(c, level))
	}

	return c
}

// buildMesh emits the triangulated quad grid for one LOD level by striding
// the chunk's full-resolution samples.
func (b *Builder) buildMesh(c *chunk.Chunk, level lod.Level) chunk.Mesh {
	stride := level.Stride
	cells := b.resolution / stride
	side := cells + 1
	spacing := c.SampleSpacing()

	mesh := chunk.Mesh{
		Level:     level.ID,
		Stride:    stride,
		Positions: make([]mgl32.Vec3, 0, side*side),
		Normals:   make([]mgl32.Vec3, 0, side*side),
		Indices:   make([]uint32, 0, cells*cells*6),
	}

	for j := 0; j < side; j++ {
		for i := 0; i < side; i++ {
			fi, fj := i*stride, j*stride
			mesh.Positions = append(mesh.Positions, mgl32.Vec3{
				float32(c.OriginX + float64(fi)*spacing),
				float32(c.HeightAt(fi, fj)),
				float32(c.OriginZ + float64(fj)*spacing),
			})
			mesh.Normals = append(mesh.Normals, b.vertexNormal(c, fi, fj))
		}
	}

	// Two triangles per cell, wound counter-clockwise seen from above.
	for j := 0; j < cells; j++ {
		for i := 0; i < cells; i++ {
			v00 := uint32(j*side + i)
			v10 := v00 + 1
			v01 := uint32((j+1)*side + i)
			v11 := v01 + 1
			mesh.Indices = append(mesh.Indices,
				v00, v01, v11,
				v00, v11, v10,
			)
		}
	}

	if b.skirtDepth > 0 {
		b.appendSkirt(&mesh, side)
	}

	return mesh
}

// vertexNormal derives the surface normal at a full-resolution grid node
// from neighboring height differences. All LOD levels read the same
// full-resolution neighbors, so a vertex shared between levels carries the
// same normal at every stride. Border nodes fall back to one-sided
// differences within the chunk.
func (b *Builder) vertexNormal(c *chunk.Chunk, fi, fj int) mgl32.Vec3 {
	spacing := c.SampleSpacing()

	il, ir := maxInt(fi-1, 0), minInt(fi+1, c.Resolution)
	jl, jr := maxInt(fj-1, 0), minInt(fj+1, c.Resolution)

	gx := (c.HeightAt(ir, fj) - c.HeightAt(il, fj)) / (float64(ir-il) * spacing)
	gz := (c.HeightAt(fi, jr) - c.HeightAt(fi, jl)) / (float64(jr-jl) * spacing)

	return mgl32.Vec3{float32(-gx), 1, float32(-gz)}.Normalize()
}

// appendSkirt drops a vertical strip from each boundary edge of the grid so
// that neighbors rendered at a different LOD do not show a gap at the seam.
// Skirt vertices reuse the top vertex normal; the strip is occluded except
// when a crack would otherwise be visible.
func (b *Builder) appendSkirt(mesh *chunk.Mesh, side int) {
	edges := [][]uint32{
		make([]uint32, 0, side), // north, j = 0, walking +x
		make([]uint32, 0, side), // south, j = side-1, walking -x
		make([]uint32, 0, side), // west, i = 0, walking -z
		make([]uint32, 0, side), // east, i = side-1, walking +z
	}
	for k := 0; k < side; k++ {
		edges[0] = append(edges[0], uint32(k))
		edges[1] = append(edges[1], uint32((side-1)*side+(side-1-k)))
		edges[2] = append(edges[2], uint32((side-1-k)*side))
		edges[3] = append(edges[3], uint32(k*side+(side-1)))
	}

	depth := float32(b.skirtDepth)
	for _, edge := range edges {
		base := uint32(len(mesh.Positions))
		for _, top := range edge {
			p := mesh.Positions[top]
			mesh.Positions = append(mesh.Positions, mgl32.Vec3{p.X(), p.Y() - depth, p.Z()})
			mesh.Normals = append(mesh.Normals, mesh.Normals[top])
		}
		for k := 0; k < len(edge)-1; k++ {
			t0, t1 := edge[k], edge[k+1]
			l0, l1 := base+uint32(k), base+uint32(k+1)
			mesh.Indices = append(mesh.Indices,
				t0, l1, t1,
				t0, l0, l1,
			)
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
