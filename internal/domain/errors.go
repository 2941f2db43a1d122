package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrClosed                  = errors.New("channel is closed")
	ErrStoreClosed             = errors.New("store is closed")
	ErrQueueClosed             = errors.New("queue is closed")
	ErrInvalidConcurrencyLimit = errors.New("concurrency limit must be at least 1")
	ErrItemRejected            = errors.New("item was not accepted by the queue")
	ErrMissingExecute          = errors.New("queue requires an execute function")
	ErrNotFound                = errors.New("not found")
	ErrInvalidJobName          = errors.New("job name must be between 1 and 256 characters")
	ErrInvalidTarget           = errors.New("job target must be an absolute http(s) URL")
	ErrPayloadTooLarge         = errors.New("job payload exceeds 64 KiB")
	ErrInvalidOutcome          = errors.New("outcome must be one of: succeeded, failed, cancelled")
)
