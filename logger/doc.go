// Package logger is rowstream's structured logging on zerolog.
//
// Output is JSON or a compact console format. Loggers are scoped with
// WithComponent and enriched from a request context with WithContext, which
// adds trace, span and request ids.
//
//	logging:
//	  level: info
//	  format: json
//
//	log := logger.WithComponent("cursor")
//	log.Warn("Cursor release failed", logger.Fields(logger.FieldHandle, "rows", logger.FieldError, err.Error()))
package logger
