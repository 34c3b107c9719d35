package tasks

import (
	"time"

	"senhts/internal/raster"
)

var (
	seriesStart = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	testGrid    = raster.Grid{Width: 2, Height: 2}
)

// obsAt builds an observation whose bands hold vals[band] at every pixel;
// a value equal to invalid marks the pixel as no-data.
func obsAt(sensor raster.Sensor, captured time.Time, vals map[string][]float64) raster.Observation {
	o := raster.Observation{Sensor: sensor, Captured: captured, Raster: raster.Raster{Grid: testGrid}}
	for _, name := range sortedKeys(vals) {
		b := raster.NewBand(name, testGrid)
		for p, v := range vals[name] {
			if v == invalid {
				continue
			}
			b.Values[p] = v
			b.Valid[p] = true
		}
		o.Bands = append(o.Bands, b)
	}
	return o
}

const invalid = -1e9

func fill(v float64) []float64 {
	return []float64{v, v, v, v}
}

func sortedKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func daysAfter(n int) time.Time {
	return seriesStart.Add(time.Duration(n) * day)
}
