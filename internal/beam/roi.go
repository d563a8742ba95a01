package beam

import "gonum.org/v1/gonum/mat"

// ROI is a rectangular region of interest in image coordinates. Max bounds
// are exclusive.
type ROI struct {
	RowMin, RowMax int
	ColMin, ColMax int
}

// Apply clamps the ROI to the extents of img and returns the matching
// sub-matrix, which shares storage with img. ok is false when the clamped
// region is empty.
func (r ROI) Apply(img *mat.Dense) (sub mat.Matrix, ok bool) {
	rows, cols := img.Dims()
	r0, r1 := clamp(r.RowMin, 0, rows), clamp(r.RowMax, 0, rows)
	c0, c1 := clamp(r.ColMin, 0, cols), clamp(r.ColMax, 0, cols)
	if r0 >= r1 || c0 >= c1 {
		return nil, false
	}
	return img.Slice(r0, r1, c0, c1), true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
