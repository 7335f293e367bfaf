// Package indexdb owns the sqlite cache of resolved dataset indexes.
//
// Responsibilities: schema migrations (embedded, applied with
// golang-migrate), saving a dataset.Index for a (root, split) key, loading it
// back without touching the dataset tree, and exposing the database on the
// tailsql debug page.
//
// The cache holds frame metadata only. Payloads and preprocessing results
// are never persisted.
package indexdb
