// Package app provides the application service layer.
//
// Use cases invoked from the HTTP surface: sending notifications through the
// broadcast hub and reporting process health.
package app
