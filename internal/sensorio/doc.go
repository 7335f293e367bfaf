// Package sensorio reads raw sensor files for the dataset model.
//
// PointCloudReader handles PCD (ascii and binary) and KITTI-style .bin
// float32 clouds, optionally wrapped in .zst or .lz4 compression.
// ImageReader decodes camera frames through the registered image decoders
// (jpeg, png, bmp, tiff, webp). Both read through an fsutil.FileSystem.
package sensorio
