// Package errors provides the structured error type returned by rowstream's
// HTTP surface: machine-readable codes, an HTTP status mapping and retryable
// detection, serialized as an RFC 7807-style body.
package errors
