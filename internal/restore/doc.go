// Package restore recovers capsule sets from backup artifacts into the
// capsule store.
//
// A restore run moves through validating, reading, filtering and then either
// reporting (dry run) or writing. A reader failure aborts the run before any
// write; a failure on a single capsule is recorded and the batch continues.
package restore
