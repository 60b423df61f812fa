// Package models lists the models served by the configured endpoint, so a
// value for --model can be picked before a benchmark run.
package models
