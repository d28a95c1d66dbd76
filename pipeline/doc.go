// Package pipeline provides composable, pull-based data pipeline operators.
//
// Pipelines are lazy: no work happens until values are pulled via Collect,
// Drain, or ForEach. Each stage pulls from the previous stage on demand, so
// a slow consumer slows the source down instead of buffering its output.
// Every operator runs on the caller's goroutine and issues at most one
// upstream pull per value, which keeps the ordering and single-consumer
// guarantees of the source intact.
//
// Closing any stage closes its source. Terminals close the iterator on
// every exit path.
//
// # Operators
//
//   - Map: transform each value
//   - Filter: keep values matching a predicate
//   - Tap: side-effect without altering the value (metrics, progress)
//   - Take: stop after n values and close the source
//   - Batch: group values into fixed-size windows
//
// # Usage
//
//	s, err := repo.StreamSQL(ctx)
//	if err != nil {
//	    return err
//	}
//	dtos := pipeline.Map(s.Pipeline(), func(_ context.Context, e entity.Entity) (entity.Dto, error) {
//	    return e.ToDto(), nil
//	})
//	err = pipeline.ForEach(ctx, pipeline.Batch(dtos, 10, 0), writeWindow)
package pipeline
