package cli

import (
	"errors"

	"github.com/davidjoliver86/s3multipart/upload"
	"github.com/davidjoliver86/s3multipart/upload/inventory"
	"github.com/davidjoliver86/s3multipart/upload/network"
	"github.com/davidjoliver86/s3multipart/upload/session"
)

// Exit codes separate operator-fixable problems (bad part directory, stale
// session) from service failures, and flag the one state worth special
// handling in scripts: everything uploaded but completion still pending.
const (
	exitFailure           = 1
	exitValidation        = 2
	exitUploadFailed      = 3
	exitCompletionPending = 4
)

// ExitCode maps an error returned by Execute to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, upload.ErrCompletionPending):
		return exitCompletionPending
	case inventory.IsInventoryError(err),
		errors.Is(err, session.ErrSessionMismatch),
		errors.Is(err, session.ErrSessionCorrupt),
		errors.Is(err, session.ErrSessionNotFound):
		return exitValidation
	case errors.Is(err, upload.ErrUploadFailed),
		network.IsNonRetryable(err):
		return exitUploadFailed
	default:
		return exitFailure
	}
}
