// Package server is the HTTP transport: a gin engine behind h2c on one
// listener, run as a lifecycle component, plus Stream, which writes a
// row sequence to a response as a JSON array, NDJSON or server-sent events.
//
// Middleware lives in server/middleware (recovery, request ID, request
// logging, CORS) and the probe endpoints in server/endpoint.
package server
