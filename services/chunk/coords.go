package chunk

import (
	"fmt"
	"math"
)

// Coord identifies one terrain tile on the chunk grid.
type Coord struct {
	X int `json:"x"`
	Z int `json:"z"`
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Z)
}

// Chebyshev returns the Chebyshev distance between two chunk coordinates,
// the metric behind the square-shaped render radius.
func (c Coord) Chebyshev(other Coord) int {
	dx := absInt(c.X - other.X)
	dz := absInt(c.Z - other.Z)
	if dx > dz {
		return dx
	}
	return dz
}

// WorldToCoord maps a world position onto the chunk grid by floor division,
// so negative coordinates land in the correct tile.
func WorldToCoord(worldX, worldZ, chunkSize float64) Coord {
	return Coord{
		X: int(math.Floor(worldX / chunkSize)),
		Z: int(math.Floor(worldZ / chunkSize)),
	}
}

// Origin returns the minimum-corner world position of a chunk, the inverse
// of WorldToCoord up to the tile footprint.
func Origin(c Coord, chunkSize float64) (worldX, worldZ float64) {
	return float64(c.X) * chunkSize, float64(c.Z) * chunkSize
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
