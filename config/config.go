package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable startup configuration for the terrain engine.
// It is constructed once by Load and passed by reference into the
// heightfield, geometry builder, and streaming manager constructors.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Terrain   TerrainConfig   `yaml:"terrain"`
	Noise     NoiseConfig     `yaml:"noise"`
	Lod       LodConfig       `yaml:"lod"`
	Streaming StreamingConfig `yaml:"streaming"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type TerrainConfig struct {
	// ChunkSize is the world-space width of one chunk along each axis.
	ChunkSize float64 `yaml:"chunk_size"`
	// Resolution is the number of cells per chunk side; a chunk stores
	// (Resolution+1)^2 height samples so both edges are included.
	Resolution int `yaml:"resolution"`
	// MaxHeight scales normalized noise into world elevation.
	MaxHeight float64 `yaml:"max_height"`
	// SkirtDepth is the depth of the vertical edge skirts that hide LOD
	// seam cracks. Zero disables skirts and accepts the artifact.
	SkirtDepth float64 `yaml:"skirt_depth"`
}

type NoiseConfig struct {
	Seed        int64   `yaml:"seed"`
	Octaves     int     `yaml:"octaves"`
	Frequency   float64 `yaml:"frequency"`
	Persistence float64 `yaml:"persistence"`
	Lacunarity  float64 `yaml:"lacunarity"`
	// DetailAmplitude weighs an extra simplex octave layered on top of the
	// perlin sum. Zero disables the layer.
	DetailAmplitude float64 `yaml:"detail_amplitude"`
	DetailFrequency float64 `yaml:"detail_frequency"`
}

type LodConfig struct {
	// Thresholds is the ordered table of increasing activation distances.
	// Level i is active below Thresholds[i]; the last level has no upper
	// bound, so len(Thresholds)+1 levels exist in total.
	Thresholds []float64 `yaml:"thresholds"`
	// Hysteresis widens each threshold into distinct up/down crossing
	// distances (world units) to prevent oscillation near a boundary.
	Hysteresis float64 `yaml:"hysteresis"`
}

type StreamingConfig struct {
	// RenderDistance is the Chebyshev radius R of the desired chunk set;
	// at most (2R+1)^2 chunks are ever loaded.
	RenderDistance int `yaml:"render_distance"`
	// BudgetPerUpdate caps how many chunk builds one update may dispatch.
	// Zero or negative means unlimited.
	BudgetPerUpdate int `yaml:"budget_per_update"`
	// Workers is the number of background generation goroutines.
	Workers      int           `yaml:"workers"`
	TickInterval time.Duration `yaml:"tick_interval"`
	// EventBuffer is the per-subscriber buffer for load/evict events.
	EventBuffer int `yaml:"event_buffer"`
}

type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load builds the configuration from defaults, overlays the YAML file at
// path when one is given, and validates the result. A validation failure
// here is the only configuration error the engine ever raises; nothing is
// re-checked per chunk.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnvStr("PORT", "8080"),
			ReadTimeout:     getEnvDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Terrain: TerrainConfig{
			ChunkSize:  16,
			Resolution: 16,
			MaxHeight:  64,
			SkirtDepth: 2,
		},
		Noise: NoiseConfig{
			Seed:            1337,
			Octaves:         5,
			Frequency:       0.01,
			Persistence:     0.5,
			Lacunarity:      2.0,
			DetailAmplitude: 0.15,
			DetailFrequency: 0.08,
		},
		Lod: LodConfig{
			Thresholds: []float64{20, 50},
			Hysteresis: 2.0,
		},
		Streaming: StreamingConfig{
			RenderDistance:  3,
			BudgetPerUpdate: 16,
			Workers:         getEnvInt("TERRAIN_WORKERS", 4),
			TickInterval:    getEnvDuration("TICK_INTERVAL", 100*time.Millisecond),
			EventBuffer:     64,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    getEnvStr("STORE_PATH", "./terrain.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnvStr("LOG_LEVEL", "info"),
			Format: getEnvStr("LOG_FORMAT", "text"),
		},
	}
}

func (c *Config) normalize() {
	if c.Streaming.Workers <= 0 {
		c.Streaming.Workers = 4
	}
	if c.Streaming.EventBuffer <= 0 {
		c.Streaming.EventBuffer = 64
	}
	if c.Streaming.TickInterval <= 0 {
		c.Streaming.TickInterval = 100 * time.Millisecond
	}
}

// Validate fails fast on configuration the engine cannot run with. Called
// once at startup; generation itself is pure arithmetic and cannot fail.
func (c *Config) Validate() error {
	if c.Terrain.ChunkSize <= 0 {
		return fmt.Errorf("terrain.chunk_size must be positive, got %v", c.Terrain.ChunkSize)
	}
	if c.Terrain.Resolution <= 0 {
		return fmt.Errorf("terrain.resolution must be positive, got %d", c.Terrain.Resolution)
	}
	if c.Terrain.MaxHeight <= 0 {
		return fmt.Errorf("terrain.max_height must be positive, got %v", c.Terrain.MaxHeight)
	}
	if c.Terrain.SkirtDepth < 0 {
		return fmt.Errorf("terrain.skirt_depth must not be negative, got %v", c.Terrain.SkirtDepth)
	}
	if c.Streaming.RenderDistance <= 0 {
		return fmt.Errorf("streaming.render_distance must be positive, got %d", c.Streaming.RenderDistance)
	}
	if c.Noise.Octaves <= 0 {
		return fmt.Errorf("noise.octaves must be positive, got %d", c.Noise.Octaves)
	}
	if c.Noise.Frequency <= 0 {
		return fmt.Errorf("noise.frequency must be positive, got %v", c.Noise.Frequency)
	}
	if c.Noise.Persistence <= 0 || c.Noise.Persistence > 1 {
		return fmt.Errorf("noise.persistence must be in (0,1], got %v", c.Noise.Persistence)
	}
	if c.Noise.Lacunarity < 1 {
		return fmt.Errorf("noise.lacunarity must be at least 1, got %v", c.Noise.Lacunarity)
	}
	if c.Noise.DetailAmplitude < 0 {
		return fmt.Errorf("noise.detail_amplitude must not be negative, got %v", c.Noise.DetailAmplitude)
	}
	if c.Noise.DetailAmplitude > 0 && c.Noise.DetailFrequency <= 0 {
		return fmt.Errorf("noise.detail_frequency must be positive when detail is enabled, got %v", c.Noise.DetailFrequency)
	}
	if len(c.Lod.Thresholds) == 0 {
		return fmt.Errorf("lod.thresholds must not be empty")
	}
	prev := 0.0
	for i, t := range c.Lod.Thresholds {
		if t <= prev {
			return fmt.Errorf("lod.thresholds must be strictly increasing and positive, got %v at index %d", t, i)
		}
		prev = t
	}
	if c.Lod.Hysteresis < 0 {
		return fmt.Errorf("lod.hysteresis must not be negative, got %v", c.Lod.Hysteresis)
	}

	// Every LOD strides the full-resolution grid by 2^level, so the
	// coarsest stride has to divide the cell count evenly.
	coarsest := 1 << len(c.Lod.Thresholds)
	if c.Terrain.Resolution%coarsest != 0 {
		return fmt.Errorf("terrain.resolution %d is not divisible by the coarsest LOD stride %d", c.Terrain.Resolution, coarsest)
	}

	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path must be set when the store is enabled")
	}

	return nil
}

// LodLevelCount is the number of LOD variants implied by the threshold table.
func (c *Config) LodLevelCount() int {
	return len(c.Lod.Thresholds) + 1
}

func getEnvStr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
