// Package domain defines the core domain types and interfaces.
//
// This package contains concept-oriented files (errors.go, event.go, topic.go, dispatch.go, session.go)
// with shared types and cross-cutting interfaces. Only small value-type helpers live here.
// Prevents circular imports by keeping interfaces on the consumer side.
package domain
