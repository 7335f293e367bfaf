// Package stats owns dataset statistics runs.
//
// Responsibilities: sampling the first frames of a partition, counting label
// classes across every annotated view, tracking per-frame load failures and
// (optionally) point counts, and exporting the class histogram as a PNG or
// an HTML chart.
// Key types: Loader, Options, Report.
//
// A Collect run shards frames across workers. Each worker owns its
// accumulator and the accumulators are merged by key-wise summation at the
// end, so the histogram never depends on visitation order.
package stats
