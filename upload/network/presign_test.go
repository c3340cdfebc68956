package network

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresignedPartUploader_Upload(t *testing.T) {
	var gotMethod, gotHeader string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Amz-Server-Side-Encryption")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", "\"abc123\"")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	uploader := NewPresignedPartUploader(log.NewLogger())
	target := PresignedPart{
		PartNumber: 1,
		Method:     http.MethodPut,
		URL:        server.URL,
		Headers:    map[string]string{"X-Amz-Server-Side-Encryption": "AES256"},
	}

	body := []byte("part bytes")
	eTag, err := uploader.Upload(context.Background(), target, bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)

	assert.Equal(t, "abc123", eTag)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "AES256", gotHeader)
	assert.Equal(t, body, gotBody)
}

func TestPresignedPartUploader_Upload_ExpiredURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("Request has expired")) //nolint:errcheck
	}))
	defer server.Close()

	uploader := NewPresignedPartUploader(log.NewLogger())
	target := PresignedPart{PartNumber: 1, Method: http.MethodPut, URL: server.URL}

	body := []byte("part bytes")
	_, err := uploader.Upload(context.Background(), target, bytes.NewReader(body), int64(len(body)))
	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.Contains(t, err.Error(), "Request has expired")
}

func TestPresignedPartUploader_Upload_MissingETag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	uploader := NewPresignedPartUploader(log.NewLogger())
	target := PresignedPart{PartNumber: 1, Method: http.MethodPut, URL: server.URL}

	_, err := uploader.Upload(context.Background(), target, bytes.NewReader([]byte("x")), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ETag")
}
