// Package queue provides the in-memory priority queue feeding the dispatch
// pool. The queue holds only (priority, jobID) tuples; the durable record
// lives in the store and must exist before a job is enqueued.
package queue
