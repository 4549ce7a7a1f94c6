// Package storage provides the GORM-backed job store for durable-dispatch.
//
// The store works with any GORM dialect; SQLite is used throughout the
// tests and examples.
package storage
