package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/davidjoliver86/s3multipart/upload/session"
)

const numServiceRetries = 3
const serviceRetryWait = 5 * time.Second

// Service wraps the multipart lifecycle calls (create, complete, abort) with
// retry and error classification. It implements session.UploadStarter.
type Service struct {
	client API
	logger log.Logger
}

// NewService ...
func NewService(client API, logger log.Logger) *Service {
	return &Service{
		client: client,
		logger: logger,
	}
}

// StartUpload calls CreateMultipartUpload with the configured server-side
// encryption and returns the upload ID.
func (s *Service) StartUpload(ctx context.Context, bucket, key string, enc session.Encryption) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if err := applyEncryption(enc, func(sse types.ServerSideEncryption, kmsKeyID string) {
		input.ServerSideEncryption = sse
		if kmsKeyID != "" {
			input.SSEKMSKeyId = aws.String(kmsKeyID)
		}
	}); err != nil {
		return "", err
	}

	var uploadID string
	err := retry.Times(numServiceRetries).Wait(serviceRetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			s.logger.Debugf("Retrying create multipart upload (attempt %d)", attempt+1)
		}
		output, err := s.client.CreateMultipartUpload(ctx, input)
		if err != nil {
			if !isRetryable(err) {
				return &NonRetryableError{Err: err}, true
			}
			return fmt.Errorf("create multipart upload: %w", err), false
		}
		uploadID = aws.ToString(output.UploadId)
		return nil, true
	})
	if err != nil {
		return "", err
	}
	if uploadID == "" {
		return "", fmt.Errorf("service returned an empty upload id for s3://%s/%s", bucket, key)
	}

	return uploadID, nil
}

// Complete assembles the final object from the session's uploaded parts,
// ordered by part number. A completion that races an earlier ambiguous
// attempt is fine: if the service no longer knows the upload ID but the
// object exists, the upload already completed and this call reports success.
func (s *Service) Complete(ctx context.Context, sess *session.UploadSession) error {
	completed := sess.CompletedParts()
	parts := make([]types.CompletedPart, 0, len(completed))
	for _, part := range completed {
		parts = append(parts, types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(part.PartNumber),
		})
	}

	input := &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(sess.Bucket),
		Key:      aws.String(sess.RemoteKey),
		UploadId: aws.String(sess.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	}

	return retry.Times(numServiceRetries).Wait(serviceRetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			s.logger.Debugf("Retrying complete multipart upload (attempt %d)", attempt+1)
		}
		_, err := s.client.CompleteMultipartUpload(ctx, input)
		if err == nil {
			return nil, true
		}

		if isNoSuchUpload(err) {
			exists, headErr := s.objectExists(ctx, sess.Bucket, sess.RemoteKey)
			if headErr == nil && exists {
				s.logger.Debugf("Upload %s already completed, object s3://%s/%s exists", sess.UploadID, sess.Bucket, sess.RemoteKey)
				return nil, true
			}
		}

		if !isRetryable(err) {
			return &NonRetryableError{Err: err}, true
		}
		return fmt.Errorf("complete multipart upload: %w", err), false
	})
}

// Abort tells the service to discard the upload and its parts. An upload the
// service no longer knows about counts as already aborted.
func (s *Service) Abort(ctx context.Context, sess *session.UploadSession) error {
	input := &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(sess.Bucket),
		Key:      aws.String(sess.RemoteKey),
		UploadId: aws.String(sess.UploadID),
	}

	return retry.Times(numServiceRetries).Wait(serviceRetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := s.client.AbortMultipartUpload(ctx, input)
		if err == nil || isNoSuchUpload(err) {
			return nil, true
		}
		if !isRetryable(err) {
			return &NonRetryableError{Err: err}, true
		}
		return fmt.Errorf("abort multipart upload: %w", err), false
	})
}

func (s *Service) objectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head object: %w", err)
	}
	return true, nil
}

func isNoSuchUpload(err error) bool {
	var noSuchUpload *types.NoSuchUpload
	return errors.As(err, &noSuchUpload)
}

// applyEncryption maps the session's encryption setting onto a request via
// the supplied setter. Unknown modes are rejected before any network call.
func applyEncryption(enc session.Encryption, set func(types.ServerSideEncryption, string)) error {
	switch enc.Mode {
	case "", "none":
		return nil
	case "AES256":
		set(types.ServerSideEncryptionAes256, "")
		return nil
	case "aws:kms":
		set(types.ServerSideEncryptionAwsKms, enc.KMSKeyID)
		return nil
	default:
		return fmt.Errorf("unsupported server-side encryption mode: %s", enc.Mode)
	}
}
