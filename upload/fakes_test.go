package upload

import (
	"context"
	"fmt"
	"sync"

	"github.com/davidjoliver86/s3multipart/upload/session"
)

// fakeService plays both session.UploadStarter and the orchestrator's Service.
type fakeService struct {
	mu sync.Mutex

	startCalls int

	completeErrs   []error
	completeCalls  int
	completedParts []session.CompletedPart

	abortCalls int
}

func (f *fakeService) StartUpload(ctx context.Context, bucket, key string, enc session.Encryption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return fmt.Sprintf("upload-id-%d", f.startCalls), nil
}

func (f *fakeService) Complete(ctx context.Context, sess *session.UploadSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.completeCalls < len(f.completeErrs) {
		err = f.completeErrs[f.completeCalls]
	}
	f.completeCalls++
	if err != nil {
		return err
	}
	f.completedParts = sess.CompletedParts()
	return nil
}

func (f *fakeService) Abort(ctx context.Context, sess *session.UploadSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortCalls++
	return nil
}

// fakePartUploader succeeds with a deterministic ETag unless an error is
// scripted for the part number. It tracks the peak number of concurrent calls.
type fakePartUploader struct {
	mu sync.Mutex

	errs     map[int32]error
	uploaded []int32

	inFlight     int
	maxInFlight  int
	blockUploads chan struct{} // when non-nil, uploads wait on it
}

func (f *fakePartUploader) Upload(ctx context.Context, sess *session.UploadSession, part session.PartRecord) (string, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	block := f.blockUploads
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--

	if err, ok := f.errs[part.PartNumber]; ok {
		return "", err
	}
	f.uploaded = append(f.uploaded, part.PartNumber)
	return fmt.Sprintf("etag-%d", part.PartNumber), nil
}

func (f *fakePartUploader) uploadedParts() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int32(nil), f.uploaded...)
}
