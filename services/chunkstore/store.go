package chunkstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/VoidMesh/terrain/internal/logging"
	"github.com/VoidMesh/terrain/services/chunk"
)

const schema = `
CREATE TABLE IF NOT EXISTS terrain_chunks (
	seed       INTEGER NOT NULL,
	chunk_x    INTEGER NOT NULL,
	chunk_z    INTEGER NOT NULL,
	resolution INTEGER NOT NULL,
	heights    BLOB    NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (seed, chunk_x, chunk_z)
);
`

// Store is an optional persistent cache of raw height grids keyed by
// (seed, chunk coordinate). Only the samples are persisted; meshes are
// derived data and are rebuilt from the grid on load. A miss or a
// resolution mismatch simply regenerates, so the store can never make a
// query fail.
type Store struct {
	db   *sql.DB
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	seed int64
}

// Open creates or opens the sqlite-backed store at path.
func Open(path string, seed int64) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create chunk store schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	logging.WithComponent("chunkstore").Debug("Chunk store opened", "path", path, "seed", seed)
	return &Store{db: db, enc: enc, dec: dec, seed: seed}, nil
}

// LoadHeights fetches the cached sample grid for a coordinate. The second
// return value reports whether a usable entry existed.
func (s *Store) LoadHeights(ctx context.Context, coord chunk.Coord, resolution int) ([]float64, bool, error) {
	var storedResolution int
	var blob []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT resolution, heights FROM terrain_chunks WHERE seed = ? AND chunk_x = ? AND chunk_z = ?`,
		s.seed, coord.X, coord.Z,
	)
	if err := row.Scan(&storedResolution, &blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read chunk %s: %w", coord, err)
	}

	if storedResolution != resolution {
		// Grid shape changed since the entry was written; treat as a miss
		// and let generation overwrite it.
		logging.WithChunkCoords(coord.X, coord.Z).Debug("Stored chunk resolution mismatch, regenerating",
			"stored", storedResolution, "want", resolution)
		return nil, false, nil
	}

	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decompress chunk %s: %w", coord, err)
	}

	var heights []float64
	if err := json.Unmarshal(raw, &heights); err != nil {
		return nil, false, fmt.Errorf("failed to decode chunk %s: %w", coord, err)
	}
	if len(heights) != (resolution+1)*(resolution+1) {
		return nil, false, fmt.Errorf("chunk %s has %d samples, want %d", coord, len(heights), (resolution+1)*(resolution+1))
	}

	return heights, true, nil
}

// SaveHeights writes the sample grid for a coordinate, replacing any
// previous entry.
func (s *Store) SaveHeights(ctx context.Context, coord chunk.Coord, resolution int, heights []float64) error {
	raw, err := json.Marshal(heights)
	if err != nil {
		return fmt.Errorf("failed to encode chunk %s: %w", coord, err)
	}
	blob := s.enc.EncodeAll(raw, nil)

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO terrain_chunks (seed, chunk_x, chunk_z, resolution, heights) VALUES (?, ?, ?, ?, ?)`,
		s.seed, coord.X, coord.Z, resolution, blob,
	)
	if err != nil {
		return fmt.Errorf("failed to write chunk %s: %w", coord, err)
	}
	return nil
}

// Count reports how many chunks are cached for the store's seed.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM terrain_chunks WHERE seed = ?`, s.seed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Close releases the database handle and codec resources.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
