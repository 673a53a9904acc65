package streaming

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/VoidMesh/terrain/config"
	"github.com/VoidMesh/terrain/internal/logging"
	"github.com/VoidMesh/terrain/services/chunk"
	"github.com/VoidMesh/terrain/services/geometry"
)

// StoreInterface abstracts the optional persistent chunk cache so the
// manager can run with or without one and tests can inject fakes.
type StoreInterface interface {
	LoadHeights(ctx context.Context, coord chunk.Coord, resolution int) ([]float64, bool, error)
	SaveHeights(ctx context.Context, coord chunk.Coord, resolution int, heights []float64) error
}

const storeTimeout = 5 * time.Second

// Manager owns the chunk cache and drives load/evict transitions as the
// viewer moves. Per-chunk lifecycle: NotLoaded -> Loading -> Loaded ->
// Evicting -> NotLoaded. The chunk map is the only mutable collection in
// the subsystem and has exactly one writer (the manager); everything it
// publishes is immutable, so the renderer, height queries, and gameplay
// code read completed chunks concurrently without coordination.
//
// Update is meant to be called from a single update loop. Generation runs
// on background workers; results whose coordinate left the desired set by
// completion time are discarded instead of published, so the cache never
// holds stale out-of-range chunks. The loaded set is hard-capped at
// (2R+1)^2 chunks regardless of how far or fast the viewer travels.
type Manager struct {
	cfg        config.StreamingConfig
	chunkSize  float64
	resolution int
	builder    geometry.BuilderInterface
	store      StoreInterface
	logger     *log.Logger

	mu        sync.RWMutex
	chunks    map[chunk.Coord]*chunk.Chunk
	loading   map[chunk.Coord]struct{}
	viewer    chunk.Coord
	hasViewer bool

	jobs    chan chunk.Coord
	results chan *chunk.Chunk
	subs    *subscribers

	generated     atomic.Int64
	restored      atomic.Int64
	discarded     atomic.Int64
	evicted       atomic.Int64
	droppedEvents atomic.Int64

	closeOnce sync.Once
}

// Stats is a point-in-time snapshot of streaming counters for telemetry.
type Stats struct {
	Loaded        int   `json:"loaded"`
	Loading       int   `json:"loading"`
	Generated     int64 `json:"generated"`
	Restored      int64 `json:"restored"`
	Discarded     int64 `json:"discarded"`
	Evicted       int64 `json:"evicted"`
	DroppedEvents int64 `json:"dropped_events"`
}

// NewManager wires the streaming manager and starts its worker pool. The
// store may be nil, in which case every chunk is generated from scratch.
func NewManager(cfg config.StreamingConfig, terrain config.TerrainConfig, builder geometry.BuilderInterface, store StoreInterface) *Manager {
	capacity := (2*cfg.RenderDistance + 1) * (2*cfg.RenderDistance + 1)
	queueCap := 2 * capacity
	if queueCap < 64 {
		queueCap = 64
	}

	m := &Manager{
		cfg:        cfg,
		chunkSize:  terrain.ChunkSize,
		resolution: terrain.Resolution,
		builder:    builder,
		store:      store,
		logger:     logging.WithComponent("streaming"),
		chunks:     make(map[chunk.Coord]*chunk.Chunk, capacity),
		loading:    make(map[chunk.Coord]struct{}),
		jobs:       make(chan chunk.Coord, queueCap),
		results:    make(chan *chunk.Chunk, queueCap),
		subs:       newSubscribers(cfg.EventBuffer),
	}

	for i := 0; i < cfg.Workers; i++ {
		go m.worker()
	}

	m.logger.Debug("Streaming manager started",
		"render_distance", cfg.RenderDistance,
		"budget_per_update", cfg.BudgetPerUpdate,
		"workers", cfg.Workers,
		"max_loaded", capacity)
	return m
}

// Update recomputes the desired chunk set from the viewer position,
// dispatches missing coordinates to the worker pool nearest-first within
// the per-update budget, publishes any completed builds, and evicts chunks
// that fell out of range.
func (m *Manager) Update(viewerX, viewerZ float64) {
	viewer := chunk.WorldToCoord(viewerX, viewerZ, m.chunkSize)

	m.mu.Lock()
	m.viewer = viewer
	m.hasViewer = true
	m.mu.Unlock()

	m.publishCompleted()
	m.dispatchMissing(viewer)
	m.evictOutOfRange(viewer)
}

// dispatchMissing queues builds for desired coordinates that are neither
// loaded nor already in flight. When more chunks need loading than the
// budget allows (a teleport, typically), the nearest ones go first and the
// remainder waits for later updates; backpressure, not failure.
func (m *Manager) dispatchMissing(viewer chunk.Coord) {
	r := m.cfg.RenderDistance

	m.mu.Lock()
	var missing []chunk.Coord
	for x := viewer.X - r; x <= viewer.X+r; x++ {
		for z := viewer.Z - r; z <= viewer.Z+r; z++ {
			coord := chunk.Coord{X: x, Z: z}
			if _, loaded := m.chunks[coord]; loaded {
				continue
			}
			if _, inflight := m.loading[coord]; inflight {
				continue
			}
			missing = append(missing, coord)
		}
	}
	m.mu.Unlock()

	if len(missing) == 0 {
		return
	}

	sort.Slice(missing, func(i, j int) bool {
		di, dj := missing[i].Chebyshev(viewer), missing[j].Chebyshev(viewer)
		if di != dj {
			return di < dj
		}
		if missing[i].X != missing[j].X {
			return missing[i].X < missing[j].X
		}
		return missing[i].Z < missing[j].Z
	})

	if budget := m.cfg.BudgetPerUpdate; budget > 0 && len(missing) > budget {
		m.logger.Debug("Generation budget reached, deferring chunks",
			"budget", budget, "deferred", len(missing)-budget)
		missing = missing[:budget]
	}

	m.mu.Lock()
	for _, coord := range missing {
		m.loading[coord] = struct{}{}
	}
	m.mu.Unlock()

	deferred := 0
	for _, coord := range missing {
		select {
		case m.jobs <- coord:
		default:
			// Queue full; hand the coordinate back so a later update
			// re-dispatches it instead of stalling this one.
			m.mu.Lock()
			delete(m.loading, coord)
			m.mu.Unlock()
			deferred++
		}
	}
	if deferred > 0 {
		m.logger.Debug("Job queue full, deferring chunks", "deferred", deferred)
	}
}

// evictOutOfRange removes chunks whose Chebyshev distance from the viewer
// chunk exceeds the render distance and releases their buffers.
func (m *Manager) evictOutOfRange(viewer chunk.Coord) {
	m.mu.Lock()
	var gone []chunk.Coord
	for coord := range m.chunks {
		if coord.Chebyshev(viewer) > m.cfg.RenderDistance {
			delete(m.chunks, coord)
			gone = append(gone, coord)
		}
	}
	m.mu.Unlock()

	for _, coord := range gone {
		m.evicted.Add(1)
		logging.WithChunkCoords(coord.X, coord.Z).Debug("Chunk evicted")
		if dropped := m.subs.emit(Event{Kind: EventEvict, Coord: coord, At: time.Now()}); dropped > 0 {
			m.droppedEvents.Add(int64(dropped))
		}
	}
}

// publishCompleted drains finished builds without blocking the update loop.
func (m *Manager) publishCompleted() {
	for {
		select {
		case c := <-m.results:
			m.publish(c)
		default:
			return
		}
	}
}

// publish swaps a completed chunk into the cache atomically, unless its
// coordinate is no longer desired, in which case the result is dropped.
func (m *Manager) publish(c *chunk.Chunk) {
	m.mu.Lock()
	delete(m.loading, c.Coord)
	wanted := m.hasViewer && c.Coord.Chebyshev(m.viewer) <= m.cfg.RenderDistance
	if wanted {
		m.chunks[c.Coord] = c
	}
	m.mu.Unlock()

	if !wanted {
		m.discarded.Add(1)
		logging.WithChunkCoords(c.Coord.X, c.Coord.Z).Debug("Discarding chunk built for stale position")
		return
	}

	if dropped := m.subs.emit(Event{Kind: EventLoad, Coord: c.Coord, At: time.Now()}); dropped > 0 {
		m.droppedEvents.Add(int64(dropped))
	}
}

// Flush blocks until no builds are in flight and publishes everything that
// completed. After Update followed by Flush the loaded set is settled with
// respect to the last viewer position (budget permitting).
func (m *Manager) Flush() {
	for {
		m.mu.RLock()
		pending := len(m.loading)
		m.mu.RUnlock()
		if pending == 0 {
			return
		}
		// Every in-flight coordinate delivers exactly one result. The
		// timeout re-checks rather than blocking forever in case another
		// caller drained the result first.
		select {
		case c := <-m.results:
			m.publish(c)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (m *Manager) worker() {
	for coord := range m.jobs {
		m.results <- m.buildChunk(coord)
	}
}

func (m *Manager) buildChunk(coord chunk.Coord) *chunk.Chunk {
	logger := logging.WithChunkCoords(coord.X, coord.Z)
	start := time.Now()

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		heights, ok, err := m.store.LoadHeights(ctx, coord, m.resolution)
		cancel()
		if err != nil {
			// Store trouble never fails generation; fall through and build.
			logger.Error("Failed to read chunk store", "error", err)
		}
		if ok {
			c := m.builder.FromHeights(coord, heights)
			m.restored.Add(1)
			logger.Debug("Chunk restored from store", "duration", time.Since(start))
			return c
		}
	}

	c := m.builder.Build(coord)
	m.generated.Add(1)
	logger.Debug("Chunk generation completed", "duration", time.Since(start))

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err := m.store.SaveHeights(ctx, coord, m.resolution, c.Heights)
		cancel()
		if err != nil {
			logger.Error("Failed to persist chunk", "error", err)
		}
	}

	return c
}

// ChunkState is a coordinate's position in the streaming lifecycle.
type ChunkState int

const (
	StateNotLoaded ChunkState = iota
	StateLoading
	StateLoaded
)

func (s ChunkState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "not_loaded"
	}
}

// StateAt reports where a coordinate currently sits in the lifecycle.
func (m *Manager) StateAt(coord chunk.Coord) ChunkState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.chunks[coord]; ok {
		return StateLoaded
	}
	if _, ok := m.loading[coord]; ok {
		return StateLoading
	}
	return StateNotLoaded
}

// ChunkAt returns the loaded chunk covering the coordinate, nil when it is
// not resident. The returned chunk is immutable.
func (m *Manager) ChunkAt(coord chunk.Coord) *chunk.Chunk {
	m.mu.RLock()
	c := m.chunks[coord]
	m.mu.RUnlock()
	if c != nil {
		c.Touch()
	}
	return c
}

// LoadedCount reports the number of resident chunks.
func (m *Manager) LoadedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// LoadedCoords returns a snapshot of resident coordinates.
func (m *Manager) LoadedCoords() []chunk.Coord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coords := make([]chunk.Coord, 0, len(m.chunks))
	for coord := range m.chunks {
		coords = append(coords, coord)
	}
	return coords
}

// ViewerChunk reports the last viewer chunk coordinate seen by Update.
func (m *Manager) ViewerChunk() (chunk.Coord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewer, m.hasViewer
}

// Subscribe registers a load/evict event listener; the returned cancel
// function must be called when the listener goes away.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.subs.subscribe()
}

// Stats snapshots the streaming counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	loaded, loading := len(m.chunks), len(m.loading)
	m.mu.RUnlock()
	return Stats{
		Loaded:        loaded,
		Loading:       loading,
		Generated:     m.generated.Load(),
		Restored:      m.restored.Load(),
		Discarded:     m.discarded.Load(),
		Evicted:       m.evicted.Load(),
		DroppedEvents: m.droppedEvents.Load(),
	}
}

// Run drives Update from a ticker until the context is cancelled. The
// position function is polled once per tick.
func (m *Manager) Run(ctx context.Context, position func() (float64, float64)) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	m.logger.Info("Streaming update loop running", "tick_interval", m.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Streaming update loop stopped")
			return
		case <-ticker.C:
			x, z := position()
			m.Update(x, z)
		}
	}
}

// Close drains in-flight work, stops the workers, and closes subscriber
// channels. Update must not be called after Close.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.Flush()
		close(m.jobs)
		m.subs.close()
		m.logger.Debug("Streaming manager closed")
	})
}
