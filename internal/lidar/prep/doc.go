// Package prep owns the point-cloud preprocessing stage of the V2X data model.
//
// Responsibilities: axis-aligned range filtering, first-occurrence voxel
// downsampling, and 8-bit intensity normalization, composed by Pipeline in
// that fixed order.
// Key types: Point, PointCloud, VolumeRange, VoxelKey, Pipeline.
//
// Every function here is pure: inputs are never mutated and a new
// PointCloud is returned. No file decoding or persistence lives here.
package prep
