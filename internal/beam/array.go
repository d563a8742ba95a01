package beam

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrUnknownMethod is returned by Reduce and ParseMethod for any method
	// other than sum or mean.
	ErrUnknownMethod = errors.New("beam: unknown reduction method")

	// ErrTooFewDims is returned when an array has fewer than two dimensions.
	ErrTooFewDims = errors.New("beam: array must have at least two dimensions")

	// ErrShapeMismatch is returned when an array's data length does not match
	// the product of its shape.
	ErrShapeMismatch = errors.New("beam: shape does not match data length")
)

// Method selects how Reduce collapses a leading axis.
type Method string

// Supported reduction methods.
const (
	MethodSum  Method = "sum"
	MethodMean Method = "mean"
)

// ParseMethod converts a config string into a Method.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodSum, MethodMean:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Array is a dense row-major N-D array of intensity samples, as read from a
// detector dataset. The last two axes are rows and columns.
type Array struct {
	Shape []int
	Data  []float64
}

// NewArray returns an Array after checking that every dimension is positive
// and that len(data) equals the product of shape.
func NewArray(shape []int, data []float64) (*Array, error) {
	a := &Array{Shape: shape, Data: data}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Dims returns the number of dimensions.
func (a *Array) Dims() int { return len(a.Shape) }

func (a *Array) validate() error {
	if len(a.Shape) < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewDims, len(a.Shape))
	}
	n := 1
	for i, d := range a.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: axis %d has size %d", ErrShapeMismatch, i, d)
		}
		n *= d
	}
	if n != len(a.Data) {
		return fmt.Errorf("%w: shape %v holds %d values, data has %d", ErrShapeMismatch, a.Shape, n, len(a.Data))
	}
	return nil
}

// Reduce collapses axis 0 of a with method until exactly two dimensions
// remain and returns the result as a rows × cols matrix. A 2-D input is
// copied unchanged. The input array is never modified.
func Reduce(a *Array, method Method) (*mat.Dense, error) {
	if method != MethodSum && method != MethodMean {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}

	shape := a.Shape
	data := a.Data
	for len(shape) > 2 {
		n := shape[0]
		stride := len(data) / n
		out := make([]float64, stride)
		for i := 0; i < n; i++ {
			floats.Add(out, data[i*stride:(i+1)*stride])
		}
		if method == MethodMean {
			floats.Scale(1/float64(n), out)
		}
		data = out
		shape = shape[1:]
	}
	if len(shape) == len(a.Shape) {
		data = append([]float64(nil), a.Data...)
	}
	return mat.NewDense(shape[0], shape[1], data), nil
}
