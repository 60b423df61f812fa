// Package sampling draws reproducible random subsets of exam items.
package sampling
