package raster

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// Scale is the fixed-point factor applied to reflectance, index and
	// backscatter values before they are stored as int16.
	Scale = 10000

	// NoData is the int16 value marking an invalid pixel.
	NoData int16 = math.MinInt16
)

// ToInt16 rounds v to the nearest int16, clamping at the type bounds.
// NoData is never produced for a valid value.
func ToInt16(v float64) int16 {
	r := math.Round(v)
	switch {
	case math.IsNaN(r):
		return 0
	case r <= math.MinInt16:
		return math.MinInt16 + 1
	case r > math.MaxInt16:
		return math.MaxInt16
	}
	return int16(r)
}

// EncodeBand converts a band to int16 pixels, writing nodata for invalid pixels.
func EncodeBand(b Band, nodata int16) []int16 {
	out := make([]int16, len(b.Values))
	for i, v := range b.Values {
		if !b.Valid[i] {
			out[i] = nodata
			continue
		}
		out[i] = ToInt16(v)
	}
	return out
}

// DecodeBand builds a band from int16 pixels, treating nodata as invalid.
func DecodeBand(name string, pixels []int16, nodata int16) Band {
	b := Band{
		Name:   name,
		Values: make([]float64, len(pixels)),
		Valid:  make([]bool, len(pixels)),
	}
	for i, p := range pixels {
		if p == nodata {
			continue
		}
		b.Values[i] = float64(p)
		b.Valid[i] = true
	}
	return b
}

// PackInt16 serialises pixels as little-endian bytes.
func PackInt16(pixels []int16) []byte {
	buf := make([]byte, 2*len(pixels))
	for i, p := range pixels {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(p))
	}
	return buf
}

// UnpackInt16 is the inverse of PackInt16.
func UnpackInt16(buf []byte) ([]int16, error) {
	if len(buf)%2 != 0 {
		return nil, fmt.Errorf("odd blob length %d", len(buf))
	}
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return out, nil
}
