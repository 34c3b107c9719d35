// Package raster holds the in-memory multi-band grid types shared by every
// stage of the harmonization pipeline.
package raster

import (
	"fmt"
	"time"
)

// Sensor identifies an observation stream.
type Sensor string

const (
	SensorOptical Sensor = "optical"
	SensorRadar   Sensor = "radar"
)

// Grid is the fixed pixel lattice every band of a raster is laid out on.
type Grid struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Size returns the number of pixels in the grid.
func (g Grid) Size() int {
	return g.Width * g.Height
}

// Empty reports whether the grid has no pixels.
func (g Grid) Empty() bool {
	return g.Width <= 0 || g.Height <= 0
}

// Index converts a column/row pair to a flat pixel index.
func (g Grid) Index(col, row int) (int, bool) {
	if col < 0 || row < 0 || col >= g.Width || row >= g.Height {
		return 0, false
	}
	return row*g.Width + col, true
}

// Band is one named 2-D grid with a per-pixel validity mask.
// Values are stored row-major; Valid[i] == false marks no-data.
type Band struct {
	Name   string
	Values []float64
	Valid  []bool
}

// NewBand returns a fully invalid band sized for g.
func NewBand(name string, g Grid) Band {
	return Band{
		Name:   name,
		Values: make([]float64, g.Size()),
		Valid:  make([]bool, g.Size()),
	}
}

// ConstantBand returns a fully valid band holding v everywhere.
func ConstantBand(name string, g Grid, v float64) Band {
	b := NewBand(name, g)
	for i := range b.Values {
		b.Values[i] = v
		b.Valid[i] = true
	}
	return b
}

// At returns the value at pixel i and whether it is valid.
func (b Band) At(i int) (float64, bool) {
	if i < 0 || i >= len(b.Values) || !b.Valid[i] {
		return 0, false
	}
	return b.Values[i], true
}

// Renamed returns a band sharing b's pixel data under a new name.
func (b Band) Renamed(name string) Band {
	return Band{Name: name, Values: b.Values, Valid: b.Valid}
}

// ValidCount returns the number of valid pixels.
func (b Band) ValidCount() int {
	n := 0
	for _, ok := range b.Valid {
		if ok {
			n++
		}
	}
	return n
}

// Raster is an ordered set of bands on a common grid.
type Raster struct {
	Grid  Grid
	Bands []Band
}

// New returns a raster whose named bands are all invalid.
func New(g Grid, names ...string) Raster {
	r := Raster{Grid: g, Bands: make([]Band, 0, len(names))}
	for _, name := range names {
		r.Bands = append(r.Bands, NewBand(name, g))
	}
	return r
}

// Band looks up a band by name.
func (r Raster) Band(name string) (Band, bool) {
	for _, b := range r.Bands {
		if b.Name == name {
			return b, true
		}
	}
	return Band{}, false
}

// BandNames returns the band names in raster order.
func (r Raster) BandNames() []string {
	names := make([]string, len(r.Bands))
	for i, b := range r.Bands {
		names[i] = b.Name
	}
	return names
}

// Validate checks that every band matches the grid and names are unique.
func (r Raster) Validate() error {
	seen := make(map[string]struct{}, len(r.Bands))
	for _, b := range r.Bands {
		if len(b.Values) != r.Grid.Size() || len(b.Valid) != r.Grid.Size() {
			return fmt.Errorf("band %s has %d pixels, grid has %d", b.Name, len(b.Values), r.Grid.Size())
		}
		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("duplicate band %s", b.Name)
		}
		seen[b.Name] = struct{}{}
	}
	return nil
}

// Concat appends the bands of others after r's bands. All rasters must share
// the same grid.
func (r Raster) Concat(others ...Raster) (Raster, error) {
	n := len(r.Bands)
	for _, o := range others {
		n += len(o.Bands)
	}
	out := Raster{Grid: r.Grid, Bands: make([]Band, 0, n)}
	out.Bands = append(out.Bands, r.Bands...)
	for _, o := range others {
		if o.Grid != r.Grid {
			return Raster{}, fmt.Errorf("grid %dx%d does not match %dx%d", o.Grid.Width, o.Grid.Height, r.Grid.Width, r.Grid.Height)
		}
		out.Bands = append(out.Bands, o.Bands...)
	}
	return out, nil
}

// Observation is one timestamped capture from one sensor.
type Observation struct {
	Sensor       Sensor
	Collection   string
	Captured     time.Time
	Orbit        string
	Polarization string
	Raster
}
