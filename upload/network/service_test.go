package network

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidjoliver86/s3multipart/upload/session"
)

func TestService_StartUpload(t *testing.T) {
	api := &fakeAPI{}
	service := NewService(api, log.NewLogger())

	uploadID, err := service.StartUpload(context.Background(), "bucket", "key", session.Encryption{Mode: "AES256"})
	require.NoError(t, err)

	assert.Equal(t, "upload-id-1", uploadID)
	require.NotNil(t, api.lastCreate)
	assert.Equal(t, types.ServerSideEncryptionAes256, api.lastCreate.ServerSideEncryption)
	assert.Nil(t, api.lastCreate.SSEKMSKeyId)
}

func TestService_StartUpload_KMSKey(t *testing.T) {
	api := &fakeAPI{}
	service := NewService(api, log.NewLogger())

	_, err := service.StartUpload(context.Background(), "bucket", "key", session.Encryption{Mode: "aws:kms", KMSKeyID: "key-id"})
	require.NoError(t, err)

	assert.Equal(t, types.ServerSideEncryptionAwsKms, api.lastCreate.ServerSideEncryption)
	assert.Equal(t, "key-id", aws.ToString(api.lastCreate.SSEKMSKeyId))
}

func TestService_StartUpload_UnsupportedEncryptionMode(t *testing.T) {
	api := &fakeAPI{}
	service := NewService(api, log.NewLogger())

	_, err := service.StartUpload(context.Background(), "bucket", "key", session.Encryption{Mode: "rot13"})
	require.Error(t, err)
	assert.Equal(t, 0, api.createCalls)
}

func TestService_StartUpload_NonRetryable(t *testing.T) {
	api := &fakeAPI{createErrs: []error{clientFault("InvalidAccessKeyId")}}
	service := NewService(api, log.NewLogger())

	_, err := service.StartUpload(context.Background(), "bucket", "key", session.Encryption{})
	require.Error(t, err)

	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, 1, api.createCalls)
}

func uploadedSession() *session.UploadSession {
	return &session.UploadSession{
		Bucket:    "bucket",
		RemoteKey: "key",
		UploadID:  "upload-id-1",
		Status:    session.StatusInProgress,
		Parts: []session.PartRecord{
			{PartNumber: 1, SizeBytes: 1000, ETag: "etag-1", Status: session.PartStatusUploaded},
			{PartNumber: 2, SizeBytes: 1000, ETag: "etag-2", Status: session.PartStatusUploaded},
			{PartNumber: 3, SizeBytes: 500, ETag: "etag-3", Status: session.PartStatusUploaded},
		},
	}
}

func TestService_Complete_AssemblesSortedPartList(t *testing.T) {
	api := &fakeAPI{}
	service := NewService(api, log.NewLogger())

	require.NoError(t, service.Complete(context.Background(), uploadedSession()))

	require.NotNil(t, api.lastComplete)
	assert.Equal(t, "upload-id-1", aws.ToString(api.lastComplete.UploadId))
	parts := api.lastComplete.MultipartUpload.Parts
	require.Len(t, parts, 3)
	for i, part := range parts {
		assert.Equal(t, int32(i+1), aws.ToInt32(part.PartNumber))
	}
	assert.Equal(t, "etag-2", aws.ToString(parts[1].ETag))
}

func TestService_Complete_AlreadyCompletedIsSuccess(t *testing.T) {
	// The upload ID is gone but the object exists: a previous completion
	// attempt went through even though its response was lost.
	api := &fakeAPI{completeErrs: []error{&types.NoSuchUpload{}}}
	service := NewService(api, log.NewLogger())

	require.NoError(t, service.Complete(context.Background(), uploadedSession()))
	assert.Equal(t, 1, api.completeCalls)
	assert.Equal(t, 1, api.headCalls)
}

func TestService_Complete_MissingUploadWithoutObjectFails(t *testing.T) {
	api := &fakeAPI{
		completeErrs: []error{&types.NoSuchUpload{}},
		headErrs:     []error{&types.NotFound{}},
	}
	service := NewService(api, log.NewLogger())

	err := service.Complete(context.Background(), uploadedSession())
	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
}

func TestService_Abort(t *testing.T) {
	api := &fakeAPI{}
	service := NewService(api, log.NewLogger())

	require.NoError(t, service.Abort(context.Background(), uploadedSession()))
	assert.Equal(t, 1, api.abortCalls)
}

func TestService_Abort_MissingUploadIsSuccess(t *testing.T) {
	api := &fakeAPI{abortErrs: []error{&types.NoSuchUpload{}}}
	service := NewService(api, log.NewLogger())

	require.NoError(t, service.Abort(context.Background(), uploadedSession()))
}
