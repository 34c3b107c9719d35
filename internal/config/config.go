package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "~/.config/senhts/config.json"
	defaultParallel   = 2
	configEnv         = "SENHTS_CONFIG"
	dateLayout        = "2006-01-02"
)

var validate = validator.New()

// Config holds user-editable settings for the harmonization service.
type Config struct {
	Processing Processing `json:"processing" yaml:"processing"`
	Logging    Logging    `json:"logging" yaml:"logging"`
	Paths      Paths      `json:"paths" yaml:"paths"`
	Storage    Storage    `json:"storage" yaml:"storage"`
	Series     Series     `json:"series" yaml:"series"`
	Optical    Optical    `json:"optical" yaml:"optical"`
	Radar      Radar      `json:"radar" yaml:"radar"`
	Grid       Grid       `json:"grid" yaml:"grid"`
	Export     Export     `json:"export" yaml:"export"`
	Server     Server     `json:"server" yaml:"server"`
	Breaker    Breaker    `json:"breaker" yaml:"breaker"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs    int `json:"parallel_jobs" yaml:"parallel_jobs" validate:"gte=1"`
	IntervalWorkers int `json:"interval_workers" yaml:"interval_workers" validate:"gte=1"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"` // debug, info, warn, error
	Format     string `json:"format" yaml:"format" validate:"omitempty,oneof=text json"`                   // text, json
	FileOutput bool   `json:"file_output" yaml:"file_output"`                                              // Enable file logging
	LogDir     string `json:"log_dir" yaml:"log_dir"`                                                      // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DatabasePath  string `json:"database_path" yaml:"database_path" validate:"required"`
	InboxDir      string `json:"inbox_dir" yaml:"inbox_dir"`
	DefaultOutput string `json:"default_output" yaml:"default_output"`
}

// Storage selects the SQL driver. "sqlite" is the pure Go modernc driver,
// "sqlite3" the cgo mattn driver.
type Storage struct {
	Driver string `json:"driver" yaml:"driver" validate:"oneof=sqlite sqlite3"`
}

// Series defines the temporal grid the output is built on.
type Series struct {
	StartDate         string `json:"start_date" yaml:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate           string `json:"end_date" yaml:"end_date" validate:"required,datetime=2006-01-02"`
	IntervalDays      int    `json:"interval_days" yaml:"interval_days" validate:"gte=1"`
	ToleranceDays     int    `json:"tolerance_days" yaml:"tolerance_days" validate:"gte=0"`
	GapFillWindowDays int    `json:"gapfill_window_days" yaml:"gapfill_window_days" validate:"gte=0"` // 0 = interval_days+1
	DayOffsetBase     string `json:"day_offset_base" yaml:"day_offset_base" validate:"oneof=range_start year_start"`
	Aggregation       string `json:"aggregation" yaml:"aggregation" validate:"oneof=geomedian median mean"`
}

// Range parses the configured dates as UTC midnights.
func (s Series) Range() (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(dateLayout, s.StartDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := time.ParseInLocation(dateLayout, s.EndDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date: %w", err)
	}
	return start, end, nil
}

// Optical configures the optical observation stream.
type Optical struct {
	Collection string   `json:"collection" yaml:"collection" validate:"required"`
	Bands      []string `json:"bands" yaml:"bands" validate:"required,min=1,dive,required"`
}

// Radar configures the radar observation stream and the preprocessing the
// upstream collaborator is asked to apply.
type Radar struct {
	Collection                 string   `json:"collection" yaml:"collection"`
	Polarization               string   `json:"polarization" yaml:"polarization" validate:"oneof=VV VH VVVH"`
	Orbit                      string   `json:"orbit" yaml:"orbit" validate:"oneof=ASCENDING DESCENDING BOTH"`
	BorderNoiseCorrection      bool     `json:"border_noise_correction" yaml:"border_noise_correction"`
	SpeckleFilter              string   `json:"speckle_filter" yaml:"speckle_filter"`
	SpeckleFramework           string   `json:"speckle_framework" yaml:"speckle_framework"`
	SpeckleKernelSize          int      `json:"speckle_kernel_size" yaml:"speckle_kernel_size"`
	SpeckleImages              int      `json:"speckle_images" yaml:"speckle_images"`
	TerrainFlattening          bool     `json:"terrain_flattening" yaml:"terrain_flattening"`
	TerrainModel               string   `json:"terrain_model" yaml:"terrain_model"`
	TerrainLayoverShadowBuffer int      `json:"terrain_layover_shadow_buffer" yaml:"terrain_layover_shadow_buffer"`
	Format                     string   `json:"format" yaml:"format"`
	Bands                      []string `json:"bands" yaml:"bands" validate:"required,min=1,dive,required"`
}

// Grid anchors the output raster. The projection is always explicit.
type Grid struct {
	CRS       string  `json:"crs" yaml:"crs" validate:"required"`
	OriginX   float64 `json:"origin_x" yaml:"origin_x"`
	OriginY   float64 `json:"origin_y" yaml:"origin_y"`
	PixelSize float64 `json:"pixel_size" yaml:"pixel_size" validate:"gt=0"`
	Width     int     `json:"width" yaml:"width" validate:"gte=1"`
	Height    int     `json:"height" yaml:"height" validate:"gte=1"`
}

// Export configures the persisted asset.
type Export struct {
	AssetID   string  `json:"asset_id" yaml:"asset_id"`
	Scale     float64 `json:"scale" yaml:"scale" validate:"gt=0"`
	MaxPixels float64 `json:"max_pixels" yaml:"max_pixels" validate:"gt=0"`
}

// Server configures network listeners.
type Server struct {
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"`
}

// Breaker configures the circuit breaker around source fetches.
type Breaker struct {
	MaxFailures uint32        `json:"max_failures" yaml:"max_failures"`
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	// A missing .env is the common case.
	_ = godotenv.Load()

	configPath := os.Getenv(configEnv)
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return LoadFile(configPath)
}

// LoadFile reads path over the defaults. JSON is the native format; .yaml
// and .yml files are decoded as YAML. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(cfg)
	default:
		err = json.NewDecoder(f).Decode(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", expanded, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path reports the config file Load would read.
func Path() string {
	if p := os.Getenv(configEnv); p != "" {
		return p
	}
	return defaultConfigPath
}

// Validate checks struct constraints and the date ordering.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	start, end, err := c.Series.Range()
	if err != nil {
		return err
	}
	if !start.Before(end) {
		return fmt.Errorf("invalid config: start_date %s is not before end_date %s", c.Series.StartDate, c.Series.EndDate)
	}
	return nil
}

// Default returns the built-in configuration: a 10-day series over 2022
// for Sentinel-2 surface reflectance and Sentinel-1 VV/VH backscatter.
func Default() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs:    defaultParallel,
			IntervalWorkers: 4,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DatabasePath:  filepath.Join(os.TempDir(), "senhts.db"),
			InboxDir:      "./inbox",
			DefaultOutput: "./output",
		},
		Storage: Storage{Driver: "sqlite"},
		Series: Series{
			StartDate:     "2022-01-01",
			EndDate:       "2023-01-01",
			IntervalDays:  10,
			DayOffsetBase: "range_start",
			Aggregation:   "geomedian",
		},
		Optical: Optical{
			Collection: "COPERNICUS/S2_SR",
			Bands:      []string{"B1", "B2", "B3", "B4", "B5", "B6", "B7", "B8", "B9", "NDVI", "EVI", "NDWI", "SAVI", "GCVI"},
		},
		Radar: Radar{
			Collection:            "COPERNICUS/S1_GRD",
			Polarization:          "VVVH",
			Orbit:                 "DESCENDING",
			BorderNoiseCorrection: true,
			SpeckleFilter:         "LEE",
			SpeckleFramework:      "MULTI",
			SpeckleKernelSize:     9,
			SpeckleImages:         10,
			TerrainFlattening:     true,
			TerrainModel:          "VOLUME",
			Format:                "DB",
			Bands:                 []string{"VV", "VH"},
		},
		Grid: Grid{
			CRS:       "EPSG:3857",
			PixelSize: 10,
			Width:     256,
			Height:    256,
		},
		Export: Export{
			AssetID:   "s1s2_stack_10m_10d",
			Scale:     10,
			MaxPixels: 1e13,
		},
		Server: Server{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			OpenTimeout: 30 * time.Second,
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
