package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/gographics/imagick.v3/imagick"

	"senhts/internal/raster"
	"senhts/internal/tasks"
)

// Visualization maps three stack bands to red, green and blue.
type Visualization struct {
	Bands [3]string
	Min   float64
	Max   float64
	Gamma float64
}

// DefaultVisualization is an NDVI change composite over three intervals.
var DefaultVisualization = Visualization{
	Bands: [3]string{"NDVI_5", "NDVI_3", "NDVI_1"},
	Min:   1000,
	Max:   7000,
	Gamma: 1,
}

// RGB stretches the three visualised bands into interleaved 8-bit RGB.
// Invalid pixels are black.
func RGB(s tasks.OutputStack, vis Visualization) ([]byte, error) {
	if vis.Max <= vis.Min {
		return nil, fmt.Errorf("visualization max %g must exceed min %g", vis.Max, vis.Min)
	}
	gamma := vis.Gamma
	if gamma <= 0 {
		gamma = 1
	}
	var channels [3]raster.Band
	for c, name := range vis.Bands {
		b, ok := s.Band(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", tasks.ErrUnknownBand, name)
		}
		channels[c] = b
	}

	out := make([]byte, 3*s.Grid.Size())
	for p := 0; p < s.Grid.Size(); p++ {
		for c, b := range channels {
			v, ok := b.At(p)
			if !ok {
				continue
			}
			t := (v - vis.Min) / (vis.Max - vis.Min)
			t = math.Min(1, math.Max(0, t))
			out[3*p+c] = byte(math.Round(255 * math.Pow(t, 1/gamma)))
		}
	}
	return out, nil
}

// Quicklook renders vis of s to a PNG at path.
func Quicklook(s tasks.OutputStack, vis Visualization, path string) error {
	pixels, err := RGB(s, vis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ConstituteImage(uint(s.Grid.Width), uint(s.Grid.Height), "RGB", imagick.PIXEL_CHAR, pixels); err != nil {
		return fmt.Errorf("failed to create quicklook: %v", err)
	}
	if err := mw.SetImageFormat("PNG"); err != nil {
		return err
	}
	if err := mw.WriteImage(path); err != nil {
		return fmt.Errorf("failed to write quicklook: %v", err)
	}
	return nil
}
