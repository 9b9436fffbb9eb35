// Package retry provides exponential backoff retry logic for transient failures.
//
// The bridge uses it in two places: the webhook sink retries deliveries to
// the downstream endpoint, and the subscription registry retries
// resubscribing stale subjects after the NATS connection has been
// re-established.
//
// Errors wrapped with NonRetryable stop the loop immediately:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    resp, err := client.Do(req.WithContext(ctx))
//	    if err != nil {
//	        return err
//	    }
//	    if resp.StatusCode >= 400 && resp.StatusCode < 500 {
//	        return retry.NonRetryable(fmt.Errorf("status %d", resp.StatusCode))
//	    }
//	    return nil
//	})
//
// All waits respect context cancellation.
package retry
