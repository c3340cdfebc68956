// Package upload drives the multipart upload state machine: build the part
// inventory, resume or create a session, upload pending parts with bounded
// concurrency, then complete the remote upload.
package upload

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/davidjoliver86/s3multipart/upload/inventory"
	"github.com/davidjoliver86/s3multipart/upload/session"
)

// Input is the information needed to upload one set of pre-split parts.
type Input struct {
	Bucket    string
	RemoteKey string
	PartsDir  string
	// BasePattern is the part file glob without the numeric suffix; empty
	// matches every numbered file in PartsDir.
	BasePattern string
	// Concurrency bounds the number of parts in flight at once. Zero picks a
	// default based on CPU count.
	Concurrency int
	Encryption  session.Encryption
}

// ErrUploadFailed is returned when part uploads fail fatally or exhaust their
// retries. The session is aborted; a rerun starts a new upload attempt.
var ErrUploadFailed = errors.New("upload failed")

// ErrCompletionPending is returned when every part is uploaded but the final
// complete call failed. The session stays in progress; rerunning retries only
// the completion.
var ErrCompletionPending = errors.New("parts uploaded but completion failed, rerun to finish")

// PartUploader transfers a single part and returns its ETag.
type PartUploader interface {
	Upload(ctx context.Context, sess *session.UploadSession, part session.PartRecord) (string, error)
}

// Service finalizes or discards a multipart upload on the storage service.
type Service interface {
	Complete(ctx context.Context, sess *session.UploadSession) error
	Abort(ctx context.Context, sess *session.UploadSession) error
}

// Runner ...
type Runner struct {
	store    session.Store
	uploader PartUploader
	service  Service
	logger   log.Logger
}

// NewRunner ...
func NewRunner(store session.Store, uploader PartUploader, service Service, logger log.Logger) *Runner {
	return &Runner{
		store:    store,
		uploader: uploader,
		service:  service,
		logger:   logger,
	}
}

// Run uploads the parts in input.PartsDir to s3://bucket/key, resuming a
// previous attempt when one is on file. Already-uploaded parts are skipped;
// the final part list is ordered by part number no matter in which order the
// uploads finished.
func (r *Runner) Run(ctx context.Context, input Input) error {
	if input.Bucket == "" {
		return fmt.Errorf("bucket must not be empty")
	}
	if input.RemoteKey == "" {
		return fmt.Errorf("remote key must not be empty")
	}

	concurrency := input.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency()
	}

	parts, err := inventory.Build(input.PartsDir, input.BasePattern)
	if err != nil {
		return fmt.Errorf("build part inventory: %w", err)
	}
	r.logger.Infof("Found %d parts (%s) in %s",
		len(parts), units.HumanSizeWithPrecision(float64(inventory.TotalSize(parts)), 3), input.PartsDir)

	sess, err := r.store.LoadOrCreate(ctx, input.Bucket, input.RemoteKey, parts, input.Encryption)
	if err != nil {
		return fmt.Errorf("load or create session: %w", err)
	}

	pending := sess.PendingParts()
	if done := len(sess.Parts) - len(pending); done > 0 {
		r.logger.Infof("Resuming upload %s: %d of %d parts already uploaded", sess.UploadID, done, len(sess.Parts))
	}

	if len(pending) > 0 {
		r.logger.Infof("Uploading %d parts with concurrency %d...", len(pending), concurrency)
		if err := r.uploadParts(ctx, sess, pending, concurrency); err != nil {
			if abortErr := r.store.MarkAborted(sess); abortErr != nil {
				r.logger.Warnf("Failed to mark session aborted: %s", abortErr)
			}
			return fmt.Errorf("%w: %w", ErrUploadFailed, err)
		}
	}

	r.logger.Infof("Completing upload of %d parts...", len(sess.Parts))
	if err := r.service.Complete(ctx, sess); err != nil {
		// Uploaded parts stay valid on the service side, so the session is
		// left in progress rather than aborted.
		return fmt.Errorf("%w: %w", ErrCompletionPending, err)
	}
	if err := r.store.MarkCompleted(sess); err != nil {
		return err
	}

	r.logger.Donef("Uploaded s3://%s/%s (%d parts)", input.Bucket, input.RemoteKey, len(sess.Parts))
	return nil
}

// Abort discards the remote upload (if still in progress) and deletes the
// persisted session record.
func (r *Runner) Abort(ctx context.Context, bucket, key string) error {
	sess, err := r.store.Load(bucket, key)
	if err != nil {
		return err
	}

	if !sess.Terminal() {
		if err := r.service.Abort(ctx, sess); err != nil {
			return fmt.Errorf("abort upload %s: %w", sess.UploadID, err)
		}
		if err := r.store.MarkAborted(sess); err != nil {
			return err
		}
	}
	if err := r.store.Delete(bucket, key); err != nil {
		return err
	}

	r.logger.Donef("Aborted multipart upload for s3://%s/%s", bucket, key)
	return nil
}

// Status returns the persisted session for bucket/key.
func (r *Runner) Status(bucket, key string) (*session.UploadSession, error) {
	return r.store.Load(bucket, key)
}

type partResult struct {
	partNumber int32
	err        error
}

// uploadParts runs the pending uploads on a bounded worker pool. Completions
// are recorded through the session store's serialized writer as they land.
func (r *Runner) uploadParts(ctx context.Context, sess *session.UploadSession, pending []session.PartRecord, concurrency int) error {
	results := make(chan partResult, len(pending))
	semaphore := make(chan struct{}, concurrency)

	for _, part := range pending {
		go func(part session.PartRecord) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			// Cancellation stops scheduling; parts already in flight drain
			// through the collection loop below.
			if err := ctx.Err(); err != nil {
				results <- partResult{partNumber: part.PartNumber, err: err}
				return
			}

			eTag, err := r.uploader.Upload(ctx, sess, part)
			if err == nil {
				err = r.store.RecordPartUploaded(sess, part.PartNumber, eTag)
			} else if recordErr := r.store.RecordPartFailed(sess, part.PartNumber); recordErr != nil {
				r.logger.Warnf("Failed to record part %d failure: %s", part.PartNumber, recordErr)
			}
			results <- partResult{partNumber: part.PartNumber, err: err}
		}(part)
	}

	var firstErr error
	for range pending {
		result := <-results
		if result.err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("part %d: %w", result.partNumber, result.err)
		}
		if !errors.Is(result.err, context.Canceled) {
			r.logger.Errorf("Part %d failed: %s", result.partNumber, result.err)
		}
	}

	return firstErr
}

// DefaultConcurrency calculates the default worker count based on CPU count.
func DefaultConcurrency() int {
	c := runtime.NumCPU() * 3

	if c > 20 {
		c = 20
	}

	if c < 2 {
		c = 2
	}

	return c
}
