package services

import "context"

// Starter is implemented by services that run their own polling loop. The
// returned channel is signalled once the loop has shut down after the
// given context is cancelled.
type Starter interface {
	Start(ctx context.Context) (done chan struct{}, err error)
}
