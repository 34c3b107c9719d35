package pipeline

import (
	"fmt"
	"time"

	"senhts/internal/config"
	"senhts/internal/raster"
	"senhts/internal/tasks"
)

const day = 24 * time.Hour

// BuildRequest derives a harmonizer request from cfg. Job options override
// the series settings: start, end (YYYY-MM-DD), interval_days,
// tolerance_days, window_days, day_offset_base, aggregation, radar_bands
// and optical_bands.
func BuildRequest(cfg *config.Config, opts map[string]any) (tasks.Request, error) {
	series := cfg.Series
	series.StartDate = optString(opts, "start", series.StartDate)
	series.EndDate = optString(opts, "end", series.EndDate)
	start, end, err := series.Range()
	if err != nil {
		return tasks.Request{}, fmt.Errorf("%w: %v", tasks.ErrInvalidRange, err)
	}

	intervalDays, err := optInt(opts, "interval_days", series.IntervalDays)
	if err != nil {
		return tasks.Request{}, err
	}
	toleranceDays, err := optInt(opts, "tolerance_days", series.ToleranceDays)
	if err != nil {
		return tasks.Request{}, err
	}
	windowDays, err := optInt(opts, "window_days", series.GapFillWindowDays)
	if err != nil {
		return tasks.Request{}, err
	}
	base, err := tasks.ParseDayOffsetBase(optString(opts, "day_offset_base", series.DayOffsetBase))
	if err != nil {
		return tasks.Request{}, err
	}
	kind, err := tasks.ParseAggregateKind(optString(opts, "aggregation", series.Aggregation))
	if err != nil {
		return tasks.Request{}, err
	}

	for name, days := range map[string]int{"tolerance_days": toleranceDays, "window_days": windowDays} {
		if days > tasks.MaxSpanDays {
			return tasks.Request{}, fmt.Errorf("%w: %s %d exceeds %d", tasks.ErrInvalidRange, name, days, tasks.MaxSpanDays)
		}
	}

	return tasks.Request{
		Start:         start,
		End:           end,
		IntervalDays:  intervalDays,
		Tolerance:     time.Duration(toleranceDays) * day,
		Window:        time.Duration(windowDays) * day,
		DayOffsetBase: base,
		Aggregation:   kind,
		Grid:          raster.Grid{Width: cfg.Grid.Width, Height: cfg.Grid.Height},
		Transform:     Transform(cfg.Grid),
		RadarBands:    optStrings(opts, "radar_bands", cfg.Radar.Bands),
		OpticalBands:  optStrings(opts, "optical_bands", cfg.Optical.Bands),
	}, nil
}

// Transform maps the grid config section to a GeoTransform.
func Transform(g config.Grid) raster.GeoTransform {
	return raster.GeoTransform{CRS: g.CRS, OriginX: g.OriginX, OriginY: g.OriginY, PixelSize: g.PixelSize}
}
