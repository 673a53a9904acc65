package streaming

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VoidMesh/terrain/config"
	"github.com/VoidMesh/terrain/services/chunk"
)

// fakeBuilder produces skeletal chunks so streaming tests stay fast and
// independent of the noise stack. An optional gate holds builds until the
// test releases them, which makes in-flight scenarios deterministic.
type fakeBuilder struct {
	resolution int
	chunkSize  float64
	gate       chan struct{}

	built    atomic.Int64
	restored atomic.Int64
}

func (b *fakeBuilder) Build(coord chunk.Coord) *chunk.Chunk {
	if b.gate != nil {
		<-b.gate
	}
	b.built.Add(1)
	side := b.resolution + 1
	return b.newChunk(coord, make([]float64, side*side))
}

func (b *fakeBuilder) FromHeights(coord chunk.Coord, heights []float64) *chunk.Chunk {
	b.restored.Add(1)
	return b.newChunk(coord, heights)
}

func (b *fakeBuilder) newChunk(coord chunk.Coord, heights []float64) *chunk.Chunk {
	originX, originZ := chunk.Origin(coord, b.chunkSize)
	return &chunk.Chunk{
		Coord:       coord,
		OriginX:     originX,
		OriginZ:     originZ,
		Size:        b.chunkSize,
		Resolution:  b.resolution,
		Heights:     heights,
		GeneratedAt: time.Now(),
	}
}

type fakeStore struct {
	mu      sync.Mutex
	heights map[chunk.Coord][]float64
	loadErr error
	saveErr error
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{heights: make(map[chunk.Coord][]float64)}
}

func (s *fakeStore) LoadHeights(_ context.Context, coord chunk.Coord, _ int) ([]float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, false, s.loadErr
	}
	h, ok := s.heights[coord]
	return h, ok, nil
}

func (s *fakeStore) SaveHeights(_ context.Context, coord chunk.Coord, _ int, heights []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.heights[coord] = heights
	s.saves++
	return nil
}

func testStreamingConfig(renderDistance int) config.StreamingConfig {
	return config.StreamingConfig{
		RenderDistance:  renderDistance,
		BudgetPerUpdate: 0,
		Workers:         4,
		TickInterval:    10 * time.Millisecond,
		EventBuffer:     256,
	}
}

func testTerrainConfig() config.TerrainConfig {
	return config.TerrainConfig{ChunkSize: 16, Resolution: 4, MaxHeight: 64}
}

func newTestManager(t *testing.T, streamCfg config.StreamingConfig, store StoreInterface) (*Manager, *fakeBuilder) {
	t.Helper()
	builder := &fakeBuilder{resolution: 4, chunkSize: 16}
	m := NewManager(streamCfg, testTerrainConfig(), builder, store)
	t.Cleanup(m.Close)
	return m, builder
}

func TestUpdateLoadsDesiredSet(t *testing.T) {
	m, builder := newTestManager(t, testStreamingConfig(3), nil)

	m.Update(0, 0)
	m.Flush()

	assert.Equal(t, 49, m.LoadedCount())
	assert.Equal(t, int64(49), builder.built.Load())

	// Every coordinate of the (2R+1)^2 square around the viewer chunk is
	// resident, nothing else is.
	for x := -3; x <= 3; x++ {
		for z := -3; z <= 3; z++ {
			assert.Equal(t, StateLoaded, m.StateAt(chunk.Coord{X: x, Z: z}), "chunk (%d, %d)", x, z)
		}
	}
	assert.Equal(t, StateNotLoaded, m.StateAt(chunk.Coord{X: 4, Z: 0}))
	assert.Equal(t, StateNotLoaded, m.StateAt(chunk.Coord{X: 0, Z: -4}))

	viewer, ok := m.ViewerChunk()
	require.True(t, ok)
	assert.Equal(t, chunk.Coord{X: 0, Z: 0}, viewer)
}

func TestMoveOneChunkLoadsAndEvictsColumn(t *testing.T) {
	m, builder := newTestManager(t, testStreamingConfig(3), nil)

	m.Update(0, 0)
	m.Flush()
	require.Equal(t, 49, m.LoadedCount())

	events, cancel := m.Subscribe()
	defer cancel()

	// One chunk width in +x moves the viewer chunk from (0,0) to (1,0):
	// the x=4 column enters the desired set, the x=-3 column leaves it.
	m.Update(16, 0)
	m.Flush()

	assert.Equal(t, 49, m.LoadedCount())
	assert.Equal(t, int64(49+7), builder.built.Load())

	for z := -3; z <= 3; z++ {
		assert.Equal(t, StateLoaded, m.StateAt(chunk.Coord{X: 4, Z: z}), "new column z=%d", z)
		assert.Equal(t, StateNotLoaded, m.StateAt(chunk.Coord{X: -3, Z: z}), "old column z=%d", z)
	}

	var loads, evicts []chunk.Coord
	for done := false; !done; {
		select {
		case ev := <-events:
			switch ev.Kind {
			case EventLoad:
				loads = append(loads, ev.Coord)
			case EventEvict:
				evicts = append(evicts, ev.Coord)
			}
		default:
			done = true
		}
	}

	require.Len(t, loads, 7)
	require.Len(t, evicts, 7)
	for _, coord := range loads {
		assert.Equal(t, 4, coord.X)
	}
	for _, coord := range evicts {
		assert.Equal(t, -3, coord.X)
	}
}

func TestLoadedSetStaysBounded(t *testing.T) {
	m, _ := newTestManager(t, testStreamingConfig(2), nil)
	maxLoaded := 5 * 5

	// Walk a long diagonal; the resident set never exceeds (2R+1)^2 no
	// matter how far the viewer travels.
	for step := 0; step < 20; step++ {
		m.Update(float64(step)*16, float64(step)*16)
		m.Flush()
		assert.LessOrEqual(t, m.LoadedCount(), maxLoaded, "step %d", step)
	}
	assert.Equal(t, maxLoaded, m.LoadedCount())

	viewer, _ := m.ViewerChunk()
	for _, coord := range m.LoadedCoords() {
		assert.LessOrEqual(t, coord.Chebyshev(viewer), 2, "chunk %s out of range", coord)
	}
}

func TestBudgetDefersWork(t *testing.T) {
	cfg := testStreamingConfig(3)
	cfg.BudgetPerUpdate = 5
	m, _ := newTestManager(t, cfg, nil)

	m.Update(0, 0)
	m.Flush()

	// Only the budgeted amount is built per update, nearest chunks first.
	assert.Equal(t, 5, m.LoadedCount())
	assert.Equal(t, StateLoaded, m.StateAt(chunk.Coord{X: 0, Z: 0}))

	rounds := 1
	for m.LoadedCount() < 49 {
		m.Update(0, 0)
		m.Flush()
		rounds++
		require.LessOrEqual(t, rounds, 10, "desired set never settled")
	}
	assert.LessOrEqual(t, rounds, 10)
	assert.Equal(t, 49, m.LoadedCount())
}

func TestStaleResultsDiscarded(t *testing.T) {
	builder := &fakeBuilder{resolution: 4, chunkSize: 16, gate: make(chan struct{})}
	m := NewManager(testStreamingConfig(3), testTerrainConfig(), builder, nil)
	defer m.Close()

	// Dispatch the full set around the origin, then teleport before any
	// build can finish.
	m.Update(0, 0)
	m.Update(10000, 10000)

	close(builder.gate)
	m.Flush()

	assert.Equal(t, 49, m.LoadedCount())

	viewer, _ := m.ViewerChunk()
	for _, coord := range m.LoadedCoords() {
		assert.LessOrEqual(t, coord.Chebyshev(viewer), 3, "stale chunk %s survived teleport", coord)
	}

	stats := m.Stats()
	assert.Equal(t, int64(49), stats.Discarded)
	assert.Equal(t, int64(98), stats.Generated)
}

func TestUpdateNeverBlocksOnFullQueue(t *testing.T) {
	builder := &fakeBuilder{resolution: 4, chunkSize: 16, gate: make(chan struct{})}
	m := NewManager(testStreamingConfig(3), testTerrainConfig(), builder, nil)
	defer m.Close()

	// With all builds held, repeated teleports want more jobs than the
	// queue can hold. Updates must still return; overflow is handed back
	// and re-dispatched later.
	m.Update(0, 0)
	m.Update(100000, 0)

	done := make(chan struct{})
	go func() {
		m.Update(200000, 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Update blocked on a full job queue")
	}

	close(builder.gate)
	m.Flush()

	for i := 0; m.LoadedCount() < 49; i++ {
		require.Less(t, i, 10, "deferred chunks were never re-dispatched")
		m.Update(200000, 0)
		m.Flush()
	}

	viewer, _ := m.ViewerChunk()
	for _, coord := range m.LoadedCoords() {
		assert.LessOrEqual(t, coord.Chebyshev(viewer), 3, "chunk %s out of range", coord)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := newFakeStore()
	cfg := testStreamingConfig(1)

	m1, b1 := newTestManager(t, cfg, store)
	m1.Update(0, 0)
	m1.Flush()

	assert.Equal(t, int64(9), b1.built.Load())
	store.mu.Lock()
	assert.Equal(t, 9, store.saves)
	store.mu.Unlock()
	m1.Close()

	// A second manager over the same store restores instead of generating.
	m2, b2 := newTestManager(t, cfg, store)
	m2.Update(0, 0)
	m2.Flush()

	assert.Equal(t, 9, m2.LoadedCount())
	assert.Equal(t, int64(0), b2.built.Load())
	assert.Equal(t, int64(9), b2.restored.Load())
	assert.Equal(t, int64(9), m2.Stats().Restored)
}

func TestStoreErrorsFallBackToGeneration(t *testing.T) {
	store := newFakeStore()
	store.loadErr = assert.AnError
	store.saveErr = assert.AnError

	m, builder := newTestManager(t, testStreamingConfig(1), store)
	m.Update(0, 0)
	m.Flush()

	// A broken store degrades to pure generation, never to failure.
	assert.Equal(t, 9, m.LoadedCount())
	assert.Equal(t, int64(9), builder.built.Load())
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t, testStreamingConfig(1), nil)

	assert.Equal(t, Stats{}, m.Stats())

	m.Update(0, 0)
	m.Flush()
	stats := m.Stats()
	assert.Equal(t, 9, stats.Loaded)
	assert.Equal(t, 0, stats.Loading)
	assert.Equal(t, int64(9), stats.Generated)

	m.Update(1000, 1000)
	m.Flush()
	stats = m.Stats()
	assert.Equal(t, 9, stats.Loaded)
	assert.Equal(t, int64(9), stats.Evicted)
}

func TestChunkAt(t *testing.T) {
	m, _ := newTestManager(t, testStreamingConfig(1), nil)

	assert.Nil(t, m.ChunkAt(chunk.Coord{X: 0, Z: 0}))

	m.Update(0, 0)
	m.Flush()

	c := m.ChunkAt(chunk.Coord{X: 0, Z: 0})
	require.NotNil(t, c)
	assert.Equal(t, chunk.Coord{X: 0, Z: 0}, c.Coord)
	assert.False(t, c.LastAccess().IsZero())
	assert.Nil(t, m.ChunkAt(chunk.Coord{X: 5, Z: 5}))
}

func TestSubscribeCancel(t *testing.T) {
	m, _ := newTestManager(t, testStreamingConfig(1), nil)

	events, cancel := m.Subscribe()
	cancel()

	_, open := <-events
	assert.False(t, open, "cancelled subscription should close its channel")

	// Emitting after cancel must not panic or block.
	m.Update(0, 0)
	m.Flush()
	assert.Equal(t, 9, m.LoadedCount())
}

func TestRunDrivesUpdates(t *testing.T) {
	m, _ := newTestManager(t, testStreamingConfig(1), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, func() (float64, float64) { return 0, 0 })
		close(done)
	}()

	require.Eventually(t, func() bool {
		return m.LoadedCount() == 9
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t, testStreamingConfig(1), nil)
	m.Update(0, 0)
	m.Close()
	m.Close()
}

func TestChunkStateString(t *testing.T) {
	assert.Equal(t, "not_loaded", StateNotLoaded.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "loaded", StateLoaded.String())
}
