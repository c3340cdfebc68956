//go:build integration
// +build integration

package integration

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
)

var logger = log.NewLogger()

// testTarget reads the S3-compatible endpoint to test against from the
// environment. Tests are skipped when no endpoint is configured.
type testTarget struct {
	endpoint        string
	region          string
	bucket          string
	accessKeyID     string
	secretAccessKey string
}

func targetFromEnv(t *testing.T) testTarget {
	t.Helper()

	endpoint := os.Getenv("S3MULTIPART_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("S3MULTIPART_TEST_ENDPOINT not set, skipping")
	}
	bucket := os.Getenv("S3MULTIPART_TEST_BUCKET")
	if bucket == "" {
		t.Skip("S3MULTIPART_TEST_BUCKET not set, skipping")
	}

	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}

	return testTarget{
		endpoint:        endpoint,
		region:          region,
		bucket:          bucket,
		accessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		secretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}
}

func checksumOf(bytes []byte) string {
	hash := sha256.New()
	hash.Write(bytes)
	return hex.EncodeToString(hash.Sum(nil))
}

// splitIntoParts writes content as numbered part files (base.1, base.2, ...)
// the way a split tool would, and returns the directory holding them.
func splitIntoParts(t *testing.T, content []byte, base string, partSize int) string {
	t.Helper()

	dir := t.TempDir()
	number := 1
	for offset := 0; offset < len(content); offset += partSize {
		end := offset + partSize
		if end > len(content) {
			end = len(content)
		}
		name := fmt.Sprintf("%s.%d", base, number)
		if err := os.WriteFile(filepath.Join(dir, name), content[offset:end], 0o600); err != nil {
			t.Fatalf("write part file: %s", err)
		}
		number++
	}

	return dir
}

func randomBytes(t *testing.T, size int) []byte {
	t.Helper()

	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("generate test data: %s", err)
	}
	return data
}
