// Package dataset owns the frame side of the V2X data model.
//
// Responsibilities: reading the split manifest and per-side frame records
// into an Index, pairing infrastructure and vehicle frames into cooperative
// frames, and resolving raw payloads and label files lazily through the
// external readers.
// Key types: Index, Frame, Pair, Model, FrameHandle, CooperativeFrame.
//
// Loading is the only blocking work in the system. Every load is bounded by
// the configured timeout, and per-item failures surface as absent values
// plus a monitoring.Diagnostic rather than as errors.
package dataset
