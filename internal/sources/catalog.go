package sources

import (
	"context"
	"fmt"
	"log/slog"

	"senhts/internal/config"
	"senhts/internal/raster"
	"senhts/internal/storage"
	"senhts/internal/tasks"
)

// Catalog is the subset of the store a catalog source reads from.
type Catalog interface {
	QueryObservations(ctx context.Context, f storage.ObservationFilter) ([]raster.Observation, error)
}

// Optical serves cloud-masked, index-enriched optical observations of one
// collection from the catalog.
type Optical struct {
	Catalog    Catalog
	Collection string
}

// NewOptical builds an optical source from configuration.
func NewOptical(cat Catalog, cfg config.Optical) *Optical {
	return &Optical{Catalog: cat, Collection: cfg.Collection}
}

// Fetch returns the optical observations captured in [req.Start, req.End)
// carrying req.Bands.
func (o *Optical) Fetch(ctx context.Context, req tasks.FetchRequest) ([]raster.Observation, error) {
	if o == nil || o.Catalog == nil {
		return nil, fmt.Errorf("%w: optical", ErrNoSource)
	}
	return o.Catalog.QueryObservations(ctx, storage.ObservationFilter{
		Sensor:     raster.SensorOptical,
		Collection: o.Collection,
		Start:      req.Start,
		End:        req.End,
		Bands:      req.Bands,
	})
}

// RadarProcessing names the preprocessing applied upstream to radar scenes
// before they reach the catalog.
type RadarProcessing struct {
	BorderNoiseCorrection      bool   `json:"border_noise_correction"`
	SpeckleFilter              string `json:"speckle_filter"`
	SpeckleFramework           string `json:"speckle_framework"`
	SpeckleKernelSize          int    `json:"speckle_kernel_size"`
	SpeckleImages              int    `json:"speckle_images"`
	TerrainFlattening          bool   `json:"terrain_flattening"`
	TerrainModel               string `json:"terrain_model"`
	TerrainLayoverShadowBuffer int    `json:"terrain_layover_shadow_buffer"`
	Format                     string `json:"format"`
}

// Radar serves preprocessed radar observations filtered by orbit pass.
type Radar struct {
	Catalog      Catalog
	Collection   string
	Polarization string
	Orbit        string
	Processing   RadarProcessing
}

// NewRadar builds a radar source from configuration.
func NewRadar(cat Catalog, cfg config.Radar) *Radar {
	return &Radar{
		Catalog:      cat,
		Collection:   cfg.Collection,
		Polarization: cfg.Polarization,
		Orbit:        cfg.Orbit,
		Processing: RadarProcessing{
			BorderNoiseCorrection:      cfg.BorderNoiseCorrection,
			SpeckleFilter:              cfg.SpeckleFilter,
			SpeckleFramework:           cfg.SpeckleFramework,
			SpeckleKernelSize:          cfg.SpeckleKernelSize,
			SpeckleImages:              cfg.SpeckleImages,
			TerrainFlattening:          cfg.TerrainFlattening,
			TerrainModel:               cfg.TerrainModel,
			TerrainLayoverShadowBuffer: cfg.TerrainLayoverShadowBuffer,
			Format:                     cfg.Format,
		},
	}
}

// PolarizationBands expands a polarization setting to its band names.
func PolarizationBands(pol string) []string {
	switch pol {
	case "VV":
		return []string{"VV"}
	case "VH":
		return []string{"VH"}
	default:
		return []string{"VV", "VH"}
	}
}

// Orbits expands an orbit pass setting to catalog orbit values; BOTH and
// empty do not filter.
func Orbits(orbit string) []string {
	switch orbit {
	case "ASCENDING", "DESCENDING":
		return []string{orbit}
	default:
		return nil
	}
}

// Fetch returns the radar observations captured in [req.Start, req.End).
// Requested bands outside the configured polarization are not loaded.
func (r *Radar) Fetch(ctx context.Context, req tasks.FetchRequest) ([]raster.Observation, error) {
	if r == nil || r.Catalog == nil {
		return nil, fmt.Errorf("%w: radar", ErrNoSource)
	}
	allowed := make(map[string]bool)
	for _, b := range PolarizationBands(r.Polarization) {
		allowed[b] = true
	}
	var bands []string
	for _, b := range req.Bands {
		if allowed[b] {
			bands = append(bands, b)
		}
	}
	if len(bands) == 0 {
		return nil, fmt.Errorf("%w: polarization %s serves none of %v", tasks.ErrUnknownBand, r.Polarization, req.Bands)
	}
	return r.Catalog.QueryObservations(ctx, storage.ObservationFilter{
		Sensor:     raster.SensorRadar,
		Collection: r.Collection,
		Orbits:     Orbits(r.Orbit),
		Start:      req.Start,
		End:        req.End,
		Bands:      bands,
	})
}

// LogAttrs describes the radar source for job logs.
func (r *Radar) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("collection", r.Collection),
		slog.String("polarization", r.Polarization),
		slog.String("orbit", r.Orbit),
		slog.String("speckle_filter", r.Processing.SpeckleFilter),
		slog.Bool("terrain_flattening", r.Processing.TerrainFlattening),
	}
}
