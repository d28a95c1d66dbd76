// Package resilience bounds and retries access to shared resources.
//
// Bulkhead caps how many streams hold a database cursor at once, so long
// running exports cannot drain the connection pool:
//
//	bh := resilience.NewBulkhead(resilience.BulkheadConfig{Name: "cursors", MaxConcurrent: 8})
//	release, err := bh.Acquire(ctx)
//	if err != nil {
//	    return err // ErrBulkheadFull or ErrBulkheadTimeout
//	}
//	defer release()
//
// Retry re-runs an operation with exponential backoff; the database and the
// stream client use it while connecting.
package resilience
