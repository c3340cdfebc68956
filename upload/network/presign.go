package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/davidjoliver86/s3multipart/upload/session"
)

// PresignedPart is a signed upload-part URL that any host can PUT the part
// bytes to without AWS credentials.
type PresignedPart struct {
	PartNumber int32             `json:"part_number"`
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Presigner generates signed part-upload URLs for an in-progress session.
type Presigner struct {
	presign *s3.PresignClient
	logger  log.Logger
}

// NewPresigner ...
func NewPresigner(client *s3.Client, logger log.Logger) *Presigner {
	return &Presigner{
		presign: s3.NewPresignClient(client),
		logger:  logger,
	}
}

// PresignPart signs an upload-part request for the given part number, valid
// for the expiry duration.
func (p *Presigner) PresignPart(ctx context.Context, sess *session.UploadSession, partNumber int32, expiry time.Duration) (PresignedPart, error) {
	if _, ok := sess.Part(partNumber); !ok {
		return PresignedPart{}, fmt.Errorf("no part %d in session for s3://%s/%s", partNumber, sess.Bucket, sess.RemoteKey)
	}

	req, err := p.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(sess.Bucket),
		Key:        aws.String(sess.RemoteKey),
		UploadId:   aws.String(sess.UploadID),
		PartNumber: aws.Int32(partNumber),
	}, func(o *s3.PresignOptions) {
		o.Expires = expiry
	})
	if err != nil {
		return PresignedPart{}, fmt.Errorf("presign part %d: %w", partNumber, err)
	}

	headers := map[string]string{}
	for name, values := range req.SignedHeader {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	return PresignedPart{
		PartNumber: partNumber,
		Method:     req.Method,
		URL:        req.URL,
		Headers:    headers,
	}, nil
}

// PresignedPartUploader PUTs part bytes to a presigned URL over plain HTTP.
type PresignedPartUploader struct {
	httpClient *retryablehttp.Client
	logger     log.Logger
}

// NewPresignedPartUploader ...
func NewPresignedPartUploader(logger log.Logger) *PresignedPartUploader {
	return &PresignedPartUploader{
		httpClient: retryhttp.NewClient(logger),
		logger:     logger,
	}
}

// Upload sends body to the presigned URL and returns the part's ETag with
// surrounding quotes stripped.
func (u *PresignedPartUploader) Upload(ctx context.Context, target PresignedPart, body io.ReadSeeker, size int64) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, target.Method, target.URL, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for name, value := range target.Headers {
		req.Header.Set(name, value)
	}

	// Add Content-Length header manually because retryablehttp doesn't do it automatically
	req.Header.Set("Content-Length", fmt.Sprintf("%d", size))
	req.ContentLength = size

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			u.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if err != nil {
			return "", fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
			return "", &NonRetryableError{Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorBody)}
		}
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorBody)
	}

	eTag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if eTag == "" {
		return "", fmt.Errorf("no ETag in response")
	}

	return eTag, nil
}
