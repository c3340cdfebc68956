package network

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/davidjoliver86/s3multipart/upload/session"
)

// UploaderConfig holds retry and timeout settings for part uploads.
type UploaderConfig struct {
	// MaxAttempts is the total number of tries per part, including the first.
	MaxAttempts int

	// AttemptTimeout bounds a single upload attempt. Exceeding it counts as a
	// transient failure. Zero disables the per-attempt timeout.
	AttemptTimeout time.Duration

	// BaseBackoff is the first retry delay; it doubles per attempt with
	// jitter of up to one BaseBackoff added.
	BaseBackoff time.Duration
}

// DefaultUploaderConfig returns the default part upload settings.
func DefaultUploaderConfig() UploaderConfig {
	return UploaderConfig{
		MaxAttempts:    5,
		AttemptTimeout: 10 * time.Minute,
		BaseBackoff:    time.Second,
	}
}

const maxBackoff = 30 * time.Second

// PartUploader streams single parts to the service. Re-invoking it for a part
// is safe: the service keeps the last completed upload for a part number.
type PartUploader struct {
	client API
	config UploaderConfig
	logger log.Logger
}

// NewPartUploader ...
func NewPartUploader(client API, config UploaderConfig, logger log.Logger) *PartUploader {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &PartUploader{
		client: client,
		config: config,
		logger: logger,
	}
}

// Upload transfers one part and returns its ETag with surrounding quotes
// stripped. Transient failures are retried with exponential backoff and
// jitter; non-retryable failures surface immediately as NonRetryableError.
func (u *PartUploader) Upload(ctx context.Context, sess *session.UploadSession, part session.PartRecord) (string, error) {
	var lastErr error

	for attempt := 0; attempt < u.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("part %d upload cancelled: %w", part.PartNumber, err)
		}

		if attempt > 0 {
			backoff := u.backoff(attempt)
			u.logger.Debugf("Retrying part %d after %v (attempt %d/%d)",
				part.PartNumber, backoff.Round(time.Millisecond), attempt+1, u.config.MaxAttempts)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("part %d upload cancelled: %w", part.PartNumber, ctx.Err())
			case <-time.After(backoff):
			}
		}

		start := time.Now()
		eTag, err := u.uploadOnce(ctx, sess, part)
		if err == nil {
			u.logger.Debugf("Part %d uploaded (%s) in %v, ETag: %s",
				part.PartNumber, units.HumanSizeWithPrecision(float64(part.SizeBytes), 3),
				time.Since(start).Round(time.Millisecond), eTag)
			return eTag, nil
		}

		if IsNonRetryable(err) {
			return "", fmt.Errorf("upload part %d of s3://%s/%s: %w", part.PartNumber, sess.Bucket, sess.RemoteKey, err)
		}

		lastErr = err
		u.logger.Warnf("Part %d attempt %d/%d failed: %s", part.PartNumber, attempt+1, u.config.MaxAttempts, err)
	}

	return "", fmt.Errorf("upload part %d of s3://%s/%s: %d attempts exhausted: %w",
		part.PartNumber, sess.Bucket, sess.RemoteKey, u.config.MaxAttempts, lastErr)
}

func (u *PartUploader) uploadOnce(ctx context.Context, sess *session.UploadSession, part session.PartRecord) (string, error) {
	file, err := os.Open(part.LocalPath)
	if err != nil {
		// The part file vanishing from under us is not something a retry fixes.
		return "", &NonRetryableError{Err: fmt.Errorf("open part file: %w", err)}
	}
	defer file.Close() //nolint:errcheck

	attemptCtx := ctx
	if u.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, u.config.AttemptTimeout)
		defer cancel()
	}

	output, err := u.client.UploadPart(attemptCtx, &s3.UploadPartInput{
		Bucket:        aws.String(sess.Bucket),
		Key:           aws.String(sess.RemoteKey),
		UploadId:      aws.String(sess.UploadID),
		PartNumber:    aws.Int32(part.PartNumber),
		Body:          file,
		ContentLength: aws.Int64(part.SizeBytes),
	})
	if err != nil {
		if !isRetryable(err) {
			return "", &NonRetryableError{Err: err}
		}
		return "", err
	}

	eTag := strings.Trim(aws.ToString(output.ETag), `"`)
	if eTag == "" {
		return "", fmt.Errorf("no etag in upload part response")
	}

	return eTag, nil
}

func (u *PartUploader) backoff(attempt int) time.Duration {
	base := u.config.BaseBackoff
	if base <= 0 {
		base = time.Second
	}

	backoff := base << uint(attempt-1)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	return backoff + time.Duration(rand.Int63n(int64(base)))
}
