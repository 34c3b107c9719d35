package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"senhts/internal/raster"
	"senhts/internal/tasks"
)

// Point is a sampling location in grid CRS coordinates with one passthrough
// property, e.g. a land cover class label.
type Point struct {
	ID       string
	X        float64
	Y        float64
	Property string
}

// ReadPoints parses a CSV with header id,x,y[,property].
func ReadPoints(r io.Reader) ([]Point, string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, "", fmt.Errorf("read point header: %w", err)
	}
	if len(header) < 3 || !strings.EqualFold(header[0], "id") || !strings.EqualFold(header[1], "x") || !strings.EqualFold(header[2], "y") {
		return nil, "", fmt.Errorf("point header must start with id,x,y, got %v", header)
	}
	property := ""
	if len(header) > 3 {
		property = header[3]
	}

	var points []Point
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", err
		}
		if len(rec) < 3 {
			return nil, "", fmt.Errorf("line %d: want at least 3 fields, got %d", line, len(rec))
		}
		x, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, "", fmt.Errorf("line %d x: %w", line, err)
		}
		y, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, "", fmt.Errorf("line %d y: %w", line, err)
		}
		p := Point{ID: rec[0], X: x, Y: y}
		if len(rec) > 3 {
			p.Property = rec[3]
		}
		points = append(points, p)
	}
	return points, property, nil
}

// SampleResult summarises a SamplePoints run.
type SampleResult struct {
	Rows    int
	Skipped []string
}

// SamplePoints writes one CSV row per point inside the grid with the point
// id, the passthrough property (when named), WGS84 lon/lat and the value of
// each selected stack band. Points outside the grid are skipped.
func SamplePoints(w io.Writer, s tasks.OutputStack, transform raster.GeoTransform, points []Point, property string, patterns ...string) (SampleResult, error) {
	bands := s.Raster()
	if len(patterns) > 0 {
		bands = s.Select(patterns...)
	}
	if len(bands.Bands) == 0 {
		return SampleResult{}, fmt.Errorf("%w: no stack band matches %v", tasks.ErrUnknownBand, patterns)
	}

	cw := csv.NewWriter(w)
	header := []string{"id"}
	if property != "" {
		header = append(header, property)
	}
	header = append(header, "lon", "lat")
	header = append(header, bands.BandNames()...)
	if err := cw.Write(header); err != nil {
		return SampleResult{}, err
	}

	var res SampleResult
	row := make([]string, 0, len(header))
	for _, p := range points {
		col, r, ok := transform.PixelAt(s.Grid, p.X, p.Y)
		if !ok {
			res.Skipped = append(res.Skipped, p.ID)
			continue
		}
		lon, lat, err := transform.ToLonLat(p.X, p.Y)
		if err != nil {
			return res, err
		}
		idx, _ := s.Grid.Index(col, r)

		row = append(row[:0], p.ID)
		if property != "" {
			row = append(row, p.Property)
		}
		row = append(row, strconv.FormatFloat(lon, 'f', 7, 64), strconv.FormatFloat(lat, 'f', 7, 64))
		for _, b := range bands.Bands {
			v, valid := b.At(idx)
			if !valid {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			return res, err
		}
		res.Rows++
	}
	cw.Flush()
	return res, cw.Error()
}
