// Package labels owns the 3D annotation side of the V2X data model.
//
// Responsibilities: the ten-class object taxonomy, decoding and validating
// label records, and keeping label sets spatially consistent with range
// filtered point clouds.
// Key types: ObjectClass, Record, Label, LabelSet, View.
package labels
