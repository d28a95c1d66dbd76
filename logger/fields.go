package logger

// Field keys shared across packages.
const (
	FieldComponent = "component"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"
	FieldRequestID = "request_id"
	FieldStatus    = "status"
	FieldError     = "error"
	FieldDuration  = "duration_ms"
	FieldSession   = "session"
	FieldRows      = "rows"
	FieldHandle    = "handle"
)

// Fields builds a field map from alternating keys and values. Pairs with a
// non-string key are skipped, as is a trailing key without a value.
//
//	log.Info("Stream session ended", logger.Fields(logger.FieldRows, 42))
func Fields(kvs ...any) map[string]any {
	m := make(map[string]any, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}
