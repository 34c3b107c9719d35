package tasks

import (
	"fmt"
	"strconv"
	"strings"

	"senhts/internal/raster"
)

// OutputStack is the band-stacked time series: every filled interval's bands
// renamed {band}_{index} and concatenated in interval order.
type OutputStack struct {
	Grid        raster.Grid
	Intervals   []TimeInterval
	BaseBands   []string
	Bands       []raster.Band
	PerInterval int
}

// BandName returns the stacked name of base at interval index.
func BandName(base string, index int) string {
	return base + "_" + strconv.Itoa(index)
}

// SplitBandName reverses BandName.
func SplitBandName(name string) (base string, index int, ok bool) {
	cut := strings.LastIndexByte(name, '_')
	if cut <= 0 || cut == len(name)-1 {
		return "", 0, false
	}
	idx, err := strconv.Atoi(name[cut+1:])
	if err != nil || idx < 0 {
		return "", 0, false
	}
	return name[:cut], idx, true
}

// Stack concatenates the filled composites in the given order. Every
// composite must carry the same band schema.
func Stack(filled []FilledComposite) (OutputStack, error) {
	if len(filled) == 0 {
		return OutputStack{}, nil
	}
	if err := filled[0].Validate(); err != nil {
		return OutputStack{}, fmt.Errorf("interval 0: %w", err)
	}
	base := filled[0].BandNames()
	s := OutputStack{
		Grid:        filled[0].Grid,
		Intervals:   make([]TimeInterval, 0, len(filled)),
		BaseBands:   base,
		Bands:       make([]raster.Band, 0, len(base)*len(filled)),
		PerInterval: len(base),
	}
	for i, fc := range filled {
		if fc.Grid != s.Grid {
			return OutputStack{}, fmt.Errorf("%w: interval %d", ErrGridMismatch, i)
		}
		names := fc.BandNames()
		if len(names) != len(base) {
			return OutputStack{}, fmt.Errorf("interval %d has %d bands, want %d", i, len(names), len(base))
		}
		for b, band := range fc.Bands {
			if names[b] != base[b] {
				return OutputStack{}, fmt.Errorf("interval %d band %d is %s, want %s", i, b, names[b], base[b])
			}
			s.Bands = append(s.Bands, band.Renamed(BandName(band.Name, i)))
		}
		s.Intervals = append(s.Intervals, fc.Interval)
	}
	return s, nil
}

// Len returns the number of stacked bands.
func (s OutputStack) Len() int {
	return len(s.Bands)
}

// BandNames returns every stacked band name in stack order.
func (s OutputStack) BandNames() []string {
	names := make([]string, len(s.Bands))
	for i, b := range s.Bands {
		names[i] = b.Name
	}
	return names
}

// Band looks up a stacked band by its full name.
func (s OutputStack) Band(name string) (raster.Band, bool) {
	for _, b := range s.Bands {
		if b.Name == name {
			return b, true
		}
	}
	return raster.Band{}, false
}

// Raster exposes the stack as a plain raster.
func (s OutputStack) Raster() raster.Raster {
	return raster.Raster{Grid: s.Grid, Bands: s.Bands}
}

// Select returns the bands matching patterns, grouped by pattern in the
// order given and by interval within each pattern. A pattern matches a
// band either by its full stacked name (NDVI_3) or by its sensor band name
// (NDVI matches every NDVI_i). The returned bands share pixel data with s.
func (s OutputStack) Select(patterns ...string) raster.Raster {
	out := raster.Raster{Grid: s.Grid}
	taken := make(map[string]bool)
	for _, p := range patterns {
		for _, b := range s.Bands {
			if taken[b.Name] || !matchBand(p, b.Name) {
				continue
			}
			taken[b.Name] = true
			out.Bands = append(out.Bands, b)
		}
	}
	return out
}

// SelectInterval returns the bands of interval index in stack order.
func (s OutputStack) SelectInterval(index int) (raster.Raster, error) {
	if index < 0 || index >= len(s.Intervals) {
		return raster.Raster{}, fmt.Errorf("%w: interval %d out of %d", ErrUnknownBand, index, len(s.Intervals))
	}
	lo := index * s.PerInterval
	return raster.Raster{Grid: s.Grid, Bands: s.Bands[lo : lo+s.PerInterval : lo+s.PerInterval]}, nil
}

// Ordered returns the stack regrouped by base band order, interval order
// within each band, the layout of a per-band time series export.
func (s OutputStack) Ordered() raster.Raster {
	return s.Select(s.BaseBands...)
}

func matchBand(pattern, name string) bool {
	if pattern == name {
		return true
	}
	base, _, ok := SplitBandName(name)
	return ok && base == pattern
}
