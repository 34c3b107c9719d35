// Package sources supplies preprocessed radar and optical observations to
// the harmonizer: on-disk bundles, the sqlite catalog they are ingested
// into, and a circuit breaker around fetches.
package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"senhts/internal/raster"
)

// ErrNoSource is returned when a sensor has no configured source.
var ErrNoSource = errors.New("no observation source")

var validate = validator.New()

// Bundle is the on-disk JSON form of one observation. Pixel values are
// already scaled to int16 fixed point; NoData marks invalid pixels.
type Bundle struct {
	Sensor       string             `json:"sensor" validate:"oneof=optical radar"`
	Collection   string             `json:"collection" validate:"required"`
	Captured     time.Time          `json:"captured" validate:"required"`
	Orbit        string             `json:"orbit,omitempty"`
	Polarization string             `json:"polarization,omitempty"`
	Width        int                `json:"width" validate:"gte=1"`
	Height       int                `json:"height" validate:"gte=1"`
	NoData       *int16             `json:"nodata,omitempty"`
	BandOrder    []string           `json:"band_order,omitempty"`
	Bands        map[string][]int16 `json:"bands" validate:"required,min=1"`
}

// DecodeBundle reads one bundle from r.
func DecodeBundle(r io.Reader) (raster.Observation, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return raster.Observation{}, fmt.Errorf("decode bundle: %w", err)
	}
	return b.Observation()
}

// LoadBundle decodes the bundle file at path.
func LoadBundle(path string) (raster.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return raster.Observation{}, err
	}
	defer f.Close()
	obs, err := DecodeBundle(f)
	if err != nil {
		return raster.Observation{}, fmt.Errorf("%s: %w", path, err)
	}
	return obs, nil
}

// Observation validates b and converts it. Bands follow BandOrder when
// given, otherwise name order.
func (b Bundle) Observation() (raster.Observation, error) {
	if err := validate.Struct(b); err != nil {
		return raster.Observation{}, fmt.Errorf("invalid bundle: %w", err)
	}
	if b.Captured.IsZero() {
		return raster.Observation{}, errors.New("invalid bundle: captured is required")
	}
	nodata := raster.NoData
	if b.NoData != nil {
		nodata = *b.NoData
	}

	order := b.BandOrder
	if len(order) == 0 {
		order = make([]string, 0, len(b.Bands))
		for name := range b.Bands {
			order = append(order, name)
		}
		sort.Strings(order)
	}

	g := raster.Grid{Width: b.Width, Height: b.Height}
	obs := raster.Observation{
		Sensor:       raster.Sensor(b.Sensor),
		Collection:   b.Collection,
		Captured:     b.Captured.UTC(),
		Orbit:        b.Orbit,
		Polarization: b.Polarization,
		Raster:       raster.Raster{Grid: g, Bands: make([]raster.Band, 0, len(order))},
	}
	for _, name := range order {
		pixels, ok := b.Bands[name]
		if !ok {
			return raster.Observation{}, fmt.Errorf("band_order names missing band %s", name)
		}
		if len(pixels) != g.Size() {
			return raster.Observation{}, fmt.Errorf("band %s has %d pixels, want %dx%d", name, len(pixels), b.Width, b.Height)
		}
		obs.Bands = append(obs.Bands, raster.DecodeBand(name, pixels, nodata))
	}
	return obs, obs.Validate()
}

// EncodeBundle writes obs as a bundle using the default NoData value.
func EncodeBundle(w io.Writer, obs raster.Observation) error {
	b := Bundle{
		Sensor:       string(obs.Sensor),
		Collection:   obs.Collection,
		Captured:     obs.Captured.UTC(),
		Orbit:        obs.Orbit,
		Polarization: obs.Polarization,
		Width:        obs.Grid.Width,
		Height:       obs.Grid.Height,
		BandOrder:    obs.BandNames(),
		Bands:        make(map[string][]int16, len(obs.Bands)),
	}
	for _, band := range obs.Bands {
		b.Bands[band.Name] = raster.EncodeBand(band, raster.NoData)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}
