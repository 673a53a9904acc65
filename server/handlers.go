package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/VoidMesh/terrain/config"
	"github.com/VoidMesh/terrain/services/chunk"
	"github.com/VoidMesh/terrain/services/heightquery"
	"github.com/VoidMesh/terrain/services/lod"
	"github.com/VoidMesh/terrain/services/streaming"
)

// viewerState holds the camera position fed into the streaming tick loop.
type viewerState struct {
	mu sync.RWMutex
	x  float64
	z  float64
}

func (v *viewerState) set(x, z float64) {
	v.mu.Lock()
	v.x, v.z = x, z
	v.mu.Unlock()
}

func (v *viewerState) get() (float64, float64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.x, v.z
}

// Handler serves the debug/telemetry API over the terrain engine.
type Handler struct {
	cfg        *config.Config
	manager    *streaming.Manager
	policy     *lod.Policy
	query      *heightquery.Service
	viewer     *viewerState
	instanceID string
	startedAt  time.Time
}

func NewHandler(cfg *config.Config, manager *streaming.Manager, policy *lod.Policy, query *heightquery.Service, viewer *viewerState) *Handler {
	return &Handler{
		cfg:        cfg,
		manager:    manager,
		policy:     policy,
		query:      query,
		viewer:     viewer,
		instanceID: uuid.NewString(),
		startedAt:  time.Now(),
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"service":     "voidmesh-terrain",
		"instance_id": h.instanceID,
		"uptime":      time.Since(h.startedAt).String(),
		"timestamp":   time.Now().Unix(),
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response)
}

// GetHeight answers an arbitrary-point elevation query, the same call
// gameplay code uses for entity placement and path checks.
func (h *Handler) GetHeight(w http.ResponseWriter, r *http.Request) {
	x, err := parseFloatParam(r, "x")
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "invalid x coordinate", err)
		return
	}
	z, err := parseFloatParam(r, "z")
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "invalid z coordinate", err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{
		"x":       x,
		"z":       z,
		"height":  h.query.GetHeight(x, z),
		"covered": h.query.Covered(x, z),
	})
}

// SetViewer moves the camera; the streaming tick loop picks the new
// position up on its next update.
func (h *Handler) SetViewer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X float64 `json:"x"`
		Z float64 `json:"z"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	h.viewer.set(req.X, req.Z)
	log.Debug("Viewer moved", "x", req.X, "z", req.Z)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{
		"x":            req.X,
		"z":            req.Z,
		"viewer_chunk": chunk.WorldToCoord(req.X, req.Z, h.cfg.Terrain.ChunkSize),
	})
}

func (h *Handler) GetViewer(w http.ResponseWriter, r *http.Request) {
	x, z := h.viewer.get()
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{
		"x":            x,
		"z":            z,
		"viewer_chunk": chunk.WorldToCoord(x, z, h.cfg.Terrain.ChunkSize),
	})
}

type chunkSummary struct {
	Coord     chunk.Coord `json:"coord"`
	Distance  float64     `json:"distance"`
	ActiveLod int         `json:"active_lod"`
	Triangles int         `json:"triangles"`
}

// ListChunks reports every resident chunk with the LOD the policy selects
// for the current viewer, which is exactly what the renderer would draw.
func (h *Handler) ListChunks(w http.ResponseWriter, r *http.Request) {
	viewerX, viewerZ := h.viewer.get()

	coords := h.manager.LoadedCoords()
	summaries := make([]chunkSummary, 0, len(coords))
	for _, coord := range coords {
		c := h.manager.ChunkAt(coord)
		if c == nil {
			continue // evicted between snapshot and read
		}
		distance := math.Hypot(c.CenterX()-viewerX, c.CenterZ()-viewerZ)
		level := h.policy.SelectLevel(distance)
		summaries = append(summaries, chunkSummary{
			Coord:     coord,
			Distance:  distance,
			ActiveLod: level,
			Triangles: c.Meshes[level].TriangleCount(),
		})
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{
		"viewer_x": viewerX,
		"viewer_z": viewerZ,
		"count":    len(summaries),
		"chunks":   summaries,
	})
}

type lodDetail struct {
	Level     int `json:"level"`
	Stride    int `json:"stride"`
	Vertices  int `json:"vertices"`
	Triangles int `json:"triangles"`
}

// GetChunk returns the geometry breakdown of one resident chunk.
func (h *Handler) GetChunk(w http.ResponseWriter, r *http.Request) {
	cx, err := strconv.Atoi(chi.URLParam(r, "x"))
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "invalid chunk x coordinate", err)
		return
	}
	cz, err := strconv.Atoi(chi.URLParam(r, "z"))
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "invalid chunk z coordinate", err)
		return
	}

	c := h.manager.ChunkAt(chunk.Coord{X: cx, Z: cz})
	if c == nil {
		h.renderError(w, r, http.StatusNotFound, "chunk not loaded", nil)
		return
	}

	lods := make([]lodDetail, 0, len(c.Meshes))
	for i := range c.Meshes {
		lods = append(lods, lodDetail{
			Level:     c.Meshes[i].Level,
			Stride:    c.Meshes[i].Stride,
			Vertices:  c.Meshes[i].VertexCount(),
			Triangles: c.Meshes[i].TriangleCount(),
		})
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{
		"coord":        c.Coord,
		"origin_x":     c.OriginX,
		"origin_z":     c.OriginZ,
		"size":         c.Size,
		"resolution":   c.Resolution,
		"generated_at": c.GeneratedAt,
		"lods":         lods,
	})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, h.manager.Stats())
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	if err != nil {
		log.Error(message, "error", err, "path", r.URL.Path)
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]interface{}{
		"error": message,
	})
}

func parseFloatParam(r *http.Request, name string) (float64, error) {
	return strconv.ParseFloat(r.URL.Query().Get(name), 64)
}
