package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/tchi-pipeline/internal/raster"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Data layout.
	DataDir        string
	RawDir         string
	ProcessedDir   string
	EKESourcePath  string
	BathymetryPath string

	// Processing lattice and step execution.
	TargetCRS        raster.CRS
	TargetResolution float64
	TargetBounds     *raster.Bounds
	StepTimeout      time.Duration
	HarmonizeWorkers int
	BackfillWorkers  int
	VerifyChecksums  bool

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Query service.
	HotspotCount           int
	HotspotMinSeparationKm float64
	HotspotNamed           int
	HotspotCacheTTL        time.Duration
	TileCacheDir           string
	TempDir                string
	GridCacheSize          int

	// Run event publishing.
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaRunsTopic string

	// Mapbox hotspot naming.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
	MapboxCacheTTL  time.Duration

	// Optional backends; empty disables them.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string
	ArchiveBucket string
	ArchivePrefix string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	dataDir := sharedcfg.EnvOrDefault("DATA_DIR", "data")
	rawDir := sharedcfg.EnvOrDefault("RAW_DIR", filepath.Join(dataDir, "raw"))

	cfg := &Config{
		DataDir:        dataDir,
		RawDir:         rawDir,
		ProcessedDir:   sharedcfg.EnvOrDefault("PROCESSED_DIR", filepath.Join(dataDir, "processed")),
		EKESourcePath:  sharedcfg.EnvOrDefault("EKE_SOURCE_PATH", filepath.Join(rawDir, "EKE", "sample_eke.nc")),
		BathymetryPath: sharedcfg.EnvOrDefault("BATHYMETRY_PATH", filepath.Join(dataDir, "static", "bathymetry.tif")),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		TileCacheDir: os.Getenv("TILE_CACHE_DIR"),
		TempDir:      sharedcfg.EnvOrDefault("TEMP_DIR", os.TempDir()),

		KafkaEnabled:   os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaRunsTopic: sharedcfg.EnvOrDefault("KAFKA_RUNS_TOPIC", "tchi-runs"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		ArchiveBucket: os.Getenv("ARCHIVE_BUCKET"),
		ArchivePrefix: sharedcfg.EnvOrDefault("ARCHIVE_PREFIX", "tchi"),
	}

	if cfg.TargetCRS, err = raster.ParseCRS(sharedcfg.EnvOrDefault("TARGET_CRS", "EPSG:4326")); err != nil {
		return nil, fmt.Errorf("invalid TARGET_CRS: %w", err)
	}
	if cfg.TargetResolution, err = parsePositiveFloat("TARGET_RESOLUTION", "0.04"); err != nil {
		return nil, err
	}
	if cfg.TargetBounds, err = parseBounds(os.Getenv("TARGET_BOUNDS")); err != nil {
		return nil, err
	}
	if cfg.StepTimeout, err = parseDuration("STEP_TIMEOUT", "10m"); err != nil {
		return nil, err
	}
	if cfg.HarmonizeWorkers, err = parseIntRange("HARMONIZE_WORKERS", 4, 1, 64); err != nil {
		return nil, err
	}
	if cfg.BackfillWorkers, err = parseIntRange("BACKFILL_WORKERS", 2, 1, 64); err != nil {
		return nil, err
	}
	cfg.VerifyChecksums = os.Getenv("VERIFY_CHECKSUMS") == "true"

	if cfg.HotspotCount, err = parseIntRange("HOTSPOT_COUNT", 10, 1, 50); err != nil {
		return nil, err
	}
	if cfg.HotspotMinSeparationKm, err = parsePositiveFloat("HOTSPOT_MIN_SEPARATION_KM", "100"); err != nil {
		return nil, err
	}
	if cfg.HotspotNamed, err = parseIntRange("HOTSPOT_NAMED", 5, 0, 50); err != nil {
		return nil, err
	}
	if cfg.HotspotCacheTTL, err = parseDuration("HOTSPOT_CACHE_TTL", "48h"); err != nil {
		return nil, err
	}
	if cfg.GridCacheSize, err = parseIntRange("GRID_CACHE_SIZE", 32, 1, 4096); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = parseIntRange("REDIS_DB", 0, 0, 15); err != nil {
		return nil, err
	}

	cfg.MapboxToken = os.Getenv("MAPBOX_TOKEN")
	cfg.MapboxEnabled = cfg.MapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		cfg.MapboxEnabled = v == "true"
	}
	if cfg.MapboxTimeout, err = parseDuration("MAPBOX_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	if cfg.MapboxCacheTTL, err = parseDuration("MAPBOX_CACHE_TTL", "12h"); err != nil {
		return nil, err
	}
	cfg.MapboxCacheSize = parseMapboxCacheSize()

	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.KafkaEnabled && cfg.KafkaRunsTopic == "" {
		return nil, errors.New("KAFKA_RUNS_TOPIC is required when KAFKA_ENABLED is true")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveFloat(key, def string) (float64, error) {
	f, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, def), 64)
	if err != nil || !(f > 0) {
		return 0, fmt.Errorf("invalid %s: must be a positive number", key)
	}
	return f, nil
}

func parseIntRange(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer in [%d, %d]", key, lo, hi)
	}
	return n, nil
}

// parseBounds reads "minx,miny,maxx,maxy" in target CRS units.
func parseBounds(s string) (*raster.Bounds, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, errors.New("invalid TARGET_BOUNDS: want minx,miny,maxx,maxy")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TARGET_BOUNDS: %q is not a number", p)
		}
		v[i] = f
	}
	b := &raster.Bounds{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}
	if b.Empty() {
		return nil, errors.New("invalid TARGET_BOUNDS: min must be below max")
	}
	return b, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
