// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (session.go, subscription.go, notification.go, chat.go, ...)
// hold the shared model types and the contracts the app layer consumes.
// No implementation code - adapters live under internal/adapter.
package domain
