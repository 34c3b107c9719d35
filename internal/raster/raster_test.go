package raster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRasterIsFullyInvalid(t *testing.T) {
	r := New(Grid{Width: 3, Height: 2}, "VV", "VH")
	require.NoError(t, r.Validate())
	assert.Equal(t, []string{"VV", "VH"}, r.BandNames())
	for _, b := range r.Bands {
		assert.Zero(t, b.ValidCount())
	}
}

func TestConcatRequiresMatchingGrid(t *testing.T) {
	a := New(Grid{Width: 2, Height: 2}, "VV")
	b := New(Grid{Width: 2, Height: 2}, "B4")
	c := New(Grid{Width: 3, Height: 2}, "B8")

	out, err := a.Concat(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"VV", "B4"}, out.BandNames())

	_, err = a.Concat(c)
	assert.Error(t, err)
}

func TestValidateRejectsDuplicates(t *testing.T) {
	r := New(Grid{Width: 1, Height: 1}, "VV", "VV")
	assert.Error(t, r.Validate())
}

func TestCodecRoundTripKeepsNoData(t *testing.T) {
	b := NewBand("NDVI", Grid{Width: 3, Height: 1})
	b.Values[0], b.Valid[0] = 1234.4, true
	b.Values[2], b.Valid[2] = -40000, true

	pix := EncodeBand(b, NoData)
	assert.Equal(t, []int16{1234, NoData, math.MinInt16 + 1}, pix)

	raw, err := UnpackInt16(PackInt16(pix))
	require.NoError(t, err)
	back := DecodeBand("NDVI", raw, NoData)
	assert.Equal(t, []bool{true, false, true}, back.Valid)
	assert.Equal(t, 1234.0, back.Values[0])
}

func TestGeoTransformPixelLookup(t *testing.T) {
	gt := GeoTransform{CRS: CRSWebMercator, OriginX: 1000, OriginY: 2000, PixelSize: 10}
	g := Grid{Width: 4, Height: 4}

	x, y := gt.PixelCenter(1, 2)
	assert.Equal(t, 1015.0, x)
	assert.Equal(t, 1975.0, y)

	col, row, ok := gt.PixelAt(g, x, y)
	require.True(t, ok)
	assert.Equal(t, 1, col)
	assert.Equal(t, 2, row)

	_, _, ok = gt.PixelAt(g, 5000, 5000)
	assert.False(t, ok)
}

func TestToLonLatWebMercatorOrigin(t *testing.T) {
	gt := GeoTransform{CRS: CRSWebMercator}
	lon, lat, err := gt.ToLonLat(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0, lon, 1e-9)
	assert.InDelta(t, 0, lat, 1e-9)

	_, _, err = GeoTransform{CRS: "EPSG:32632"}.ToLonLat(0, 0)
	assert.Error(t, err)
}
