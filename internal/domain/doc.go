// Package domain defines the core domain types and interfaces.
//
// This package contains concept-oriented files (errors.go, session.go, event.go)
// with shared types and cross-cutting interfaces. Implementations live in
// registry, broadcast, supervisor and the adapters; consumers declare the
// narrower interfaces they need on their side.
package domain
