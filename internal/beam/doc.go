// Package beam computes beam position and flux from detector images.
//
// Reduce collapses an N-D detector array (frames × rows × cols, or deeper)
// down to a single rows × cols matrix by summing or averaging the leading
// axis until two dimensions remain.
//
// Analyze masks invalid pixels (negative sentinels and values above the
// saturation ceiling), thresholds the masked image at
// max(1, fraction × max), and treats every pixel above threshold as one
// foreground region. It reports the unweighted centroid of that region and
// the masked intensity summed over a square window placed at the
// intensity-weighted centroid. An image with no foreground yields the zero
// Result.
//
// Ratio divides secondary by primary total counts when both are positive.
//
// Everything in this package is pure and safe for concurrent use.
package beam
