// Package report writes benchmark results.
//
// Writer produces one CSV file per task plus a combined file, with rows in
// input order. History optionally appends every run to a SQLite database so
// results of different models can be compared later.
package report
