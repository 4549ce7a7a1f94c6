// Package core provides the fundamental types and interfaces for durable-dispatch.
//
// This package contains:
//   - The Job data model with GORM annotations and its status state machine
//   - The Store interface defining the persistence contract
//   - Event types for lifecycle monitoring
//   - Error types for submission and execution failures
//
// Most users should import the root package github.com/jdziat/durable-dispatch
// instead of this package directly.
package core
