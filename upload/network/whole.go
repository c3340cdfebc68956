package network

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/davidjoliver86/s3multipart/upload/session"
)

// WholeFileParams ...
type WholeFileParams struct {
	Bucket     string
	RemoteKey  string
	LocalPath  string
	PartSizeMB int64
	// Concurrency bounds the transfer manager's parallel part uploads.
	Concurrency int
	Encryption  session.Encryption
}

// UploadWholeFile uploads a single unsplit file, letting the transfer manager
// do the part splitting. For sources that never went through a splitting
// step; the session store is not involved since the manager owns resumption
// within a single run.
func UploadWholeFile(ctx context.Context, client manager.UploadAPIClient, params WholeFileParams, logger log.Logger) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(params.Bucket),
		Key:    aws.String(params.RemoteKey),
	}
	if err := applyEncryption(params.Encryption, func(sse types.ServerSideEncryption, kmsKeyID string) {
		input.ServerSideEncryption = sse
		if kmsKeyID != "" {
			input.SSEKMSKeyId = aws.String(kmsKeyID)
		}
	}); err != nil {
		return err
	}

	return retry.Times(numServiceRetries).Wait(serviceRetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		file, err := os.Open(params.LocalPath)
		if err != nil {
			return fmt.Errorf("open source file: %w", err), true
		}
		defer file.Close() //nolint:errcheck

		partMB := params.PartSizeMB
		if partMB <= 0 {
			partMB = 10
		}

		uploader := manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partMB * 1024 * 1024
			if params.Concurrency > 0 {
				u.Concurrency = params.Concurrency
			}
		})

		input.Body = file
		_, err = uploader.Upload(ctx, input)
		if err != nil {
			if !isRetryable(err) {
				return &NonRetryableError{Err: err}, true
			}
			return fmt.Errorf("upload file: %w", err), false
		}

		return nil, true
	})
}
