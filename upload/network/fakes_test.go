package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeAPI is a scriptable stand-in for the S3 client. Each errs slice is
// consumed one entry per call; a nil entry (or running out of entries) means
// the call succeeds.
type fakeAPI struct {
	mu sync.Mutex

	createErrs  []error
	createCalls int

	uploadPartErrs  []error
	uploadPartCalls int

	completeErrs  []error
	completeCalls int
	lastComplete  *s3.CompleteMultipartUploadInput

	abortErrs  []error
	abortCalls int

	headErrs  []error
	headCalls int

	lastCreate *s3.CreateMultipartUploadInput
}

func nextErr(errs []error, call int) error {
	if call < len(errs) {
		return errs[call]
	}
	return nil
}

func (f *fakeAPI) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := nextErr(f.createErrs, f.createCalls)
	f.createCalls++
	f.lastCreate = params
	if err != nil {
		return nil, err
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(fmt.Sprintf("upload-id-%d", f.createCalls))}, nil
}

func (f *fakeAPI) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := nextErr(f.uploadPartErrs, f.uploadPartCalls)
	f.uploadPartCalls++
	if err != nil {
		return nil, err
	}
	// The service wraps ETags in quotes.
	eTag := fmt.Sprintf("\"etag-part-%d\"", aws.ToInt32(params.PartNumber))
	return &s3.UploadPartOutput{ETag: aws.String(eTag)}, nil
}

func (f *fakeAPI) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := nextErr(f.completeErrs, f.completeCalls)
	f.completeCalls++
	f.lastComplete = params
	if err != nil {
		return nil, err
	}
	return &s3.CompleteMultipartUploadOutput{ETag: aws.String("\"assembled\"")}, nil
}

func (f *fakeAPI) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := nextErr(f.abortErrs, f.abortCalls)
	f.abortCalls++
	if err != nil {
		return nil, err
	}
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := nextErr(f.headErrs, f.headCalls)
	f.headCalls++
	if err != nil {
		return nil, err
	}
	return &s3.HeadObjectOutput{}, nil
}
