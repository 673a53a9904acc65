package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/VoidMesh/terrain/config"
	"github.com/VoidMesh/terrain/services/chunk"
	"github.com/VoidMesh/terrain/services/heightquery"
	"github.com/VoidMesh/terrain/services/lod"
	"github.com/VoidMesh/terrain/services/streaming"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	viewerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFD700"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8B8B8B"))
	emptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#383838"))
	loadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F25D94"))

	lodStyles = []lipgloss.Style{
		lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("#00AFFF")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("#D9D9D9")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("#8B8B8B")),
	}
)

// StreamViewModel renders the Chebyshev disk of chunks around a movable
// viewer and drives the streaming manager as the viewer walks.
type StreamViewModel struct {
	cfg     *config.Config
	manager *streaming.Manager
	policy  *lod.Policy
	query   *heightquery.Service

	viewerX float64
	viewerZ float64
	// lodState keeps each chunk's current level so hysteresis has
	// something to be stable against between ticks.
	lodState map[chunk.Coord]int

	width  int
	height int
}

// NewStreamView creates the visualizer over an assembled engine.
func NewStreamView(cfg *config.Config, manager *streaming.Manager, policy *lod.Policy, query *heightquery.Service) StreamViewModel {
	return StreamViewModel{
		cfg:      cfg,
		manager:  manager,
		policy:   policy,
		query:    query,
		lodState: make(map[chunk.Coord]int),
	}
}

// Init kicks off the first streaming update and the refresh ticker.
func (m StreamViewModel) Init() tea.Cmd {
	return tea.Batch(m.streamCmd(), m.tickCmd())
}

// Update handles key and tick messages.
func (m StreamViewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		step := m.cfg.Terrain.ChunkSize / 2
		jump := m.cfg.Terrain.ChunkSize
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			m.viewerZ -= step
		case "down", "j":
			m.viewerZ += step
		case "left", "h":
			m.viewerX -= step
		case "right", "l":
			m.viewerX += step
		case "shift+up", "K":
			m.viewerZ -= jump
		case "shift+down", "J":
			m.viewerZ += jump
		case "shift+left", "H":
			m.viewerX -= jump
		case "shift+right", "L":
			m.viewerX += jump
		case "t":
			// Teleport far enough that the whole desired set changes.
			m.viewerX += jump * float64(4*m.cfg.Streaming.RenderDistance)
		case "0":
			m.viewerX, m.viewerZ = 0, 0
		}
		return m, m.streamCmd()

	case tickMsg:
		return m, tea.Batch(m.streamCmd(), m.tickCmd())

	case streamedMsg:
		m.refreshLods()
	}

	return m, nil
}

// View renders the streaming state grid.
func (m StreamViewModel) View() string {
	var b strings.Builder

	viewerChunk := chunk.WorldToCoord(m.viewerX, m.viewerZ, m.cfg.Terrain.ChunkSize)
	stats := m.manager.Stats()
	r := m.cfg.Streaming.RenderDistance

	b.WriteString(titleStyle.Render("Terrain Streaming Visualizer"))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("Viewer  x=%.1f z=%.1f  chunk=%s  height=%.2f\n",
		m.viewerX, m.viewerZ, viewerChunk, m.query.GetHeight(m.viewerX, m.viewerZ)))
	b.WriteString(fmt.Sprintf("Chunks  loaded=%d/%d loading=%d generated=%d restored=%d evicted=%d discarded=%d\n\n",
		stats.Loaded, (2*r+1)*(2*r+1), stats.Loading, stats.Generated, stats.Restored, stats.Evicted, stats.Discarded))

	for z := viewerChunk.Z - r; z <= viewerChunk.Z+r; z++ {
		for x := viewerChunk.X - r; x <= viewerChunk.X+r; x++ {
			coord := chunk.Coord{X: x, Z: z}
			b.WriteString(m.renderCell(coord, viewerChunk))
			b.WriteString(" ")
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("arrows/hjkl move · shift jumps a chunk · t teleport · 0 origin · q quit"))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("@ viewer · digits LOD level · ~ loading · . not loaded"))

	return b.String()
}

func (m StreamViewModel) renderCell(coord, viewerChunk chunk.Coord) string {
	if coord == viewerChunk {
		return viewerStyle.Render("@")
	}
	switch m.manager.StateAt(coord) {
	case streaming.StateLoaded:
		level := m.lodState[coord]
		style := lodStyles[level%len(lodStyles)]
		return style.Render(fmt.Sprintf("%d", level))
	case streaming.StateLoading:
		return loadStyle.Render("~")
	default:
		return emptyStyle.Render(".")
	}
}

// refreshLods recomputes each resident chunk's stable LOD for the current
// viewer position and forgets state for chunks that went away.
func (m *StreamViewModel) refreshLods() {
	next := make(map[chunk.Coord]int, len(m.lodState))
	for _, coord := range m.manager.LoadedCoords() {
		c := m.manager.ChunkAt(coord)
		if c == nil {
			continue
		}
		distance := math.Hypot(c.CenterX()-m.viewerX, c.CenterZ()-m.viewerZ)
		current, seen := m.lodState[coord]
		if !seen {
			current = m.policy.SelectLevel(distance)
		}
		next[coord] = m.policy.SelectLevelStable(distance, current)
	}
	m.lodState = next
}

// streamCmd advances streaming off the UI goroutine and reports back when
// the update settles.
func (m StreamViewModel) streamCmd() tea.Cmd {
	x, z := m.viewerX, m.viewerZ
	return func() tea.Msg {
		m.manager.Update(x, z)
		m.manager.Flush()
		return streamedMsg{}
	}
}

func (m StreamViewModel) tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg{}
	})
}

type tickMsg struct{}
type streamedMsg struct{}
