// Package ioc is the image-processing IOC: the group of process variables
// that turns image-file paths into beam measurements.
//
// Writing a path to ImagePathPrimary or ImagePathSecondary loads the image
// dataset from that HDF5 file, reduces it to 2-D, clips it to the ROI_* PVs,
// runs beam.Analyze with ROI_size and publishes total_counts,
// center_of_mass_row and center_of_mass_col under the channel's
// "primary:" or "secondary:" sub-prefix. The ratio PV is then recomputed
// from whatever both channels currently hold.
//
// A path that is not an existing file, or a file that cannot be read, is
// logged and skipped: nothing is published and the put still succeeds.
// Path updates are serialized.
package ioc
