// Package state holds the authoritative snapshot of a view model and
// batches its transitions into reconciliation passes.
//
// A Container and everything observing it belong to one execution
// context. Producers on other goroutines marshal onto it with Loop.Post.
package state
