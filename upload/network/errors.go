package network

import (
	"errors"

	"github.com/aws/smithy-go"
)

// NonRetryableError marks a service failure that retrying cannot fix:
// authentication, missing bucket or upload, or a rejected part list.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return "non-retryable service error: " + e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// IsNonRetryable reports whether err carries a NonRetryableError anywhere in
// its chain.
func IsNonRetryable(err error) bool {
	var target *NonRetryableError
	return errors.As(err, &target)
}

// isRetryable classifies a service call failure. Server faults, throttling
// and plain network errors are transient; auth and not-found class errors are
// final no matter how often they are retried.
func isRetryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken",
			"NoSuchBucket", "NoSuchUpload", "NoSuchKey", "NotFound",
			"InvalidPart", "InvalidPartOrder", "EntityTooSmall":
			return false
		case "RequestTimeout", "SlowDown", "Throttling", "ThrottlingException",
			"RequestLimitExceeded", "InternalError", "ServiceUnavailable":
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}

	// Connection resets, DNS hiccups and per-attempt timeouts are worth another try.
	return true
}
