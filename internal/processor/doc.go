// Package processor contains the benchmark run itself. It parses the exam
// file, samples the items of each task, dispatches them to the translation
// endpoint, and writes the CSV reports and the optional run history. This
// package serves as the main coordinator between all other components.
package processor
