package cli

import (
	"fmt"
	"runtime"

	"senhts/internal/config"
)

// Version is stamped at build time with -ldflags.
var Version = "0.1.0-dev"

func (r *Root) configShow() error {
	c := r.cfg
	fmt.Fprintf(r.out, "Configuration:\n")
	fmt.Fprintf(r.out, "Config file: %s\n", config.Path())
	fmt.Fprintf(r.out, "\nSeries:\n")
	fmt.Fprintf(r.out, "  Range: %s .. %s\n", c.Series.StartDate, c.Series.EndDate)
	fmt.Fprintf(r.out, "  Interval days: %d\n", c.Series.IntervalDays)
	fmt.Fprintf(r.out, "  Tolerance days: %d\n", c.Series.ToleranceDays)
	window := fmt.Sprintf("%d", c.Series.GapFillWindowDays)
	if c.Series.GapFillWindowDays == 0 {
		window = fmt.Sprintf("%d (interval days + 1)", c.Series.IntervalDays+1)
	}
	fmt.Fprintf(r.out, "  Gap-fill window days: %s\n", window)
	fmt.Fprintf(r.out, "  Day offset base: %s\n", c.Series.DayOffsetBase)
	fmt.Fprintf(r.out, "  Aggregation: %s\n", c.Series.Aggregation)
	fmt.Fprintf(r.out, "\nRadar:\n")
	fmt.Fprintf(r.out, "  Collection: %s\n", c.Radar.Collection)
	fmt.Fprintf(r.out, "  Polarization: %s\n", c.Radar.Polarization)
	fmt.Fprintf(r.out, "  Orbit: %s\n", c.Radar.Orbit)
	fmt.Fprintf(r.out, "  Bands: %s\n", joinOr(c.Radar.Bands, "(none)"))
	fmt.Fprintf(r.out, "\nOptical:\n")
	fmt.Fprintf(r.out, "  Collection: %s\n", c.Optical.Collection)
	fmt.Fprintf(r.out, "  Bands: %s\n", joinOr(c.Optical.Bands, "(none)"))
	fmt.Fprintf(r.out, "\nGrid: %s %dx%d @ %gm origin (%g, %g)\n", c.Grid.CRS, c.Grid.Width, c.Grid.Height, c.Grid.PixelSize, c.Grid.OriginX, c.Grid.OriginY)
	fmt.Fprintf(r.out, "Export: asset %s scale %g max pixels %g\n", c.Export.AssetID, c.Export.Scale, c.Export.MaxPixels)
	fmt.Fprintf(r.out, "\nDatabase Path: %s (%s)\n", c.Paths.DatabasePath, c.Storage.Driver)
	fmt.Fprintf(r.out, "Inbox: %s\n", c.Paths.InboxDir)
	fmt.Fprintf(r.out, "Default Output: %s\n", c.Paths.DefaultOutput)
	fmt.Fprintf(r.out, "Parallel Jobs: %d, interval workers: %d\n", c.Processing.ParallelJobs, c.Processing.IntervalWorkers)
	fmt.Fprintf(r.out, "Log Level: %s\n", c.Logging.Level)
	fmt.Fprintf(r.out, "Log Format: %s\n", c.Logging.Format)
	return nil
}

func (r *Root) version() {
	fmt.Fprintf(r.out, "senhts %s\n", Version)
	fmt.Fprintf(r.out, "Built with Go %s\n", runtime.Version())
	if r.store != nil {
		fmt.Fprintf(r.out, "Store driver: %s\n", r.store.Driver())
	}
}
