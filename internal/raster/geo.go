package raster

import (
	"fmt"
	"math"
	"strings"
)

const (
	CRSWGS84       = "EPSG:4326"
	CRSWebMercator = "EPSG:3857"

	earthRadius = 6378137.0
)

// GeoTransform anchors a Grid in a projected coordinate system. The origin
// is the top-left corner of pixel (0, 0); rows grow southwards.
type GeoTransform struct {
	CRS       string  `json:"crs"`
	OriginX   float64 `json:"origin_x"`
	OriginY   float64 `json:"origin_y"`
	PixelSize float64 `json:"pixel_size"`
}

// PixelCenter returns the CRS coordinate of the centre of pixel (col, row).
func (t GeoTransform) PixelCenter(col, row int) (x, y float64) {
	x = t.OriginX + (float64(col)+0.5)*t.PixelSize
	y = t.OriginY - (float64(row)+0.5)*t.PixelSize
	return x, y
}

// PixelAt returns the pixel containing CRS coordinate (x, y).
func (t GeoTransform) PixelAt(g Grid, x, y float64) (col, row int, ok bool) {
	if t.PixelSize <= 0 {
		return 0, 0, false
	}
	col = int(math.Floor((x - t.OriginX) / t.PixelSize))
	row = int(math.Floor((t.OriginY - y) / t.PixelSize))
	if _, in := g.Index(col, row); !in {
		return 0, 0, false
	}
	return col, row, true
}

// ToLonLat converts a CRS coordinate to WGS84 longitude/latitude.
func (t GeoTransform) ToLonLat(x, y float64) (lon, lat float64, err error) {
	switch strings.ToUpper(t.CRS) {
	case CRSWGS84:
		return x, y, nil
	case CRSWebMercator:
		lon = x / earthRadius * 180 / math.Pi
		lat = (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180 / math.Pi
		return lon, lat, nil
	default:
		return 0, 0, fmt.Errorf("unsupported crs %q", t.CRS)
	}
}
