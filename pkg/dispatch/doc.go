// Package dispatch implements the fan-out search: one primary lookup per
// keyword, then one secondary lookup per subject it returned, each wrapped in
// its own retry policy.
//
// # Modes
//
// With Parallelism == 0 every call runs on the caller's goroutine. With
// Parallelism > 0 the dispatcher owns a fixed pool of that many workers that
// serve secondary lookups for all concurrent searches. The primary lookup
// always runs on the caller's goroutine.
//
// # Ordering and failures
//
// Results keep the order the primary lookup returned its subjects, whatever
// order the workers finish in. The first failure in that order fails the
// whole search; partial results are never returned.
//
// # Usage
//
//	d, err := dispatch.New(primary, secondary, dispatch.Config{
//		PrimaryRetry:   dispatch.RetryConfig{MaxAttempts: 3, Backoff: time.Second},
//		SecondaryRetry: dispatch.RetryConfig{MaxAttempts: 3, Backoff: 500 * time.Millisecond},
//		Parallelism:    4,
//	})
//	if err != nil {
//		return err
//	}
//	defer d.Shutdown()
//
//	result, err := d.ExecuteSearch(ctx, "reactive")
package dispatch
