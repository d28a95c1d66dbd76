// Package component defines the lifecycle contract shared by the database,
// the HTTP server and the telemetry providers, and the registry that starts
// them in order and stops them in reverse.
package component
