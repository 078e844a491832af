// Package crawler implements the dispatch engine: a single loop pulls jobs
// from a queue, paces them, gates them behind a fixed number of concurrency
// permits, and hands them to an asynchronous fetch collaborator. Outcomes are
// classified on a worker pool into handle, retry, or drop.
package crawler
