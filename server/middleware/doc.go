// Package middleware holds the gin middleware every rowstream server
// installs, outermost first: Recovery, RequestID, CORS, RequestLogger.
package middleware
