package beam

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Defaults tuned for an Eiger detector, which reports masked pixels as
// negative values and pegs saturated pixels far above any real count.
const (
	DefaultSaturationCeiling = 1e6
	DefaultThresholdFraction = 1e-4
)

// ErrNegativeWindow is returned by Analyze when the half window is negative.
var ErrNegativeWindow = errors.New("beam: half window must not be negative")

// Options holds the analysis constants. The zero value is not useful; start
// from DefaultOptions.
type Options struct {
	// SaturationCeiling is the largest pixel value still considered valid.
	SaturationCeiling float64

	// ThresholdFraction scales the brightest valid pixel to obtain the
	// foreground threshold. The threshold never drops below 1.
	ThresholdFraction float64
}

// DefaultOptions returns Options with the package defaults.
func DefaultOptions() Options {
	return Options{
		SaturationCeiling: DefaultSaturationCeiling,
		ThresholdFraction: DefaultThresholdFraction,
	}
}

// Point is a sub-pixel image position.
type Point struct {
	Row float64 `json:"row"`
	Col float64 `json:"col"`
}

// Window is the integration window actually summed, after clamping to the
// image. Max bounds are exclusive.
type Window struct {
	RowMin int `json:"row_min"`
	RowMax int `json:"row_max"`
	ColMin int `json:"col_min"`
	ColMax int `json:"col_max"`
}

// Result is the outcome of one analysis.
//
// CenterOfMass is the unweighted centroid of the foreground and is the value
// that gets published. WeightedCenter only positions the integration window.
type Result struct {
	CenterOfMass   Point   `json:"center_of_mass"`
	WeightedCenter Point   `json:"weighted_center"`
	TotalCounts    float64 `json:"total_counts"`
	Foreground     int     `json:"foreground_pixels"`
	Window         Window  `json:"window"`
}

// Analyze runs the analysis with DefaultOptions.
func Analyze(img mat.Matrix, halfWindow int) (Result, error) {
	return DefaultOptions().Analyze(img, halfWindow)
}

// Analyze computes the beam centroid and the integrated intensity of img
// inside a square window of half-width halfWindow around the weighted
// centroid. A nil or empty img, or one without foreground, yields the zero
// Result and no error.
func (o Options) Analyze(img mat.Matrix, halfWindow int) (Result, error) {
	if halfWindow < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrNegativeWindow, halfWindow)
	}
	if img == nil {
		return Result{}, nil
	}
	rows, cols := img.Dims()
	if rows == 0 || cols == 0 {
		return Result{}, nil
	}

	masked := o.mask(img, rows, cols)
	threshold := math.Max(1, o.ThresholdFraction*floats.Max(masked))

	var rs, cs, ws []float64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := masked[r*cols+c]
			if v > threshold {
				rs = append(rs, float64(r))
				cs = append(cs, float64(c))
				ws = append(ws, v)
			}
		}
	}
	if len(ws) == 0 {
		return Result{}, nil
	}

	res := Result{
		CenterOfMass:   Point{Row: stat.Mean(rs, nil), Col: stat.Mean(cs, nil)},
		WeightedCenter: Point{Row: stat.Mean(rs, ws), Col: stat.Mean(cs, ws)},
		Foreground:     len(ws),
	}
	res.Window = window(res.WeightedCenter, halfWindow, rows, cols)
	for r := res.Window.RowMin; r < res.Window.RowMax; r++ {
		res.TotalCounts += floats.Sum(masked[r*cols+res.Window.ColMin : r*cols+res.Window.ColMax])
	}
	return res, nil
}

// mask returns a row-major copy of img with every invalid pixel set to zero.
// NaN is invalid.
func (o Options) mask(img mat.Matrix, rows, cols int) []float64 {
	out := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if v := img.At(r, c); v >= 0 && v <= o.SaturationCeiling {
				out[r*cols+c] = v
			}
		}
	}
	return out
}

// window places a square of half-width hw at the truncated center and clamps
// it to [0, rows) × [0, cols).
func window(center Point, hw, rows, cols int) Window {
	// Clamp before converting: center±hw can exceed the int range.
	h := float64(hw)
	w := Window{
		RowMin: int(math.Max(center.Row-h, 0)),
		RowMax: int(math.Min(center.Row+h, float64(rows))),
		ColMin: int(math.Max(center.Col-h, 0)),
		ColMax: int(math.Min(center.Col+h, float64(cols))),
	}
	w.RowMax = max(w.RowMax, w.RowMin)
	w.ColMax = max(w.ColMax, w.ColMin)
	return w
}
