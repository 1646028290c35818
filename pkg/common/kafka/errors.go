package kafka

import "errors"

// RetryableError marks a handler failure that should be redelivered through
// the retry-topic mechanism. All other handler errors are terminal for the
// delivery: the handler is expected to have recorded them durably itself.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return e.Err.Error()
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err so the consumer routes the message to a retry topic.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

func IsRetryable(err error) bool {
	var re RetryableError
	return errors.As(err, &re)
}
