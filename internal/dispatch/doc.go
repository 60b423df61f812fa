// Package dispatch runs translation items through a fixed pool of workers.
//
// Items of every selected task are fed, in task then index order, into a
// shared queue drained by exactly Workers goroutines. Each result lands in a
// slot keyed by (task, position), so output order never depends on
// completion order. Cancelling the run or exceeding the optional budget stops
// submission; calls already in flight are allowed to finish and items that
// were never sent receive a synthesized cancelled or budget_exhausted result.
package dispatch
