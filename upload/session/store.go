package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/davidjoliver86/s3multipart/upload/inventory"
)

// UploadStarter creates the remote multipart upload when a new session is
// needed. Implemented by the network service client.
type UploadStarter interface {
	StartUpload(ctx context.Context, bucket, key string, enc Encryption) (string, error)
}

// Store is the durable session state owned by this package. Mutations are
// serialized and persisted before they return.
type Store interface {
	LoadOrCreate(ctx context.Context, bucket, key string, parts []inventory.Part, enc Encryption) (*UploadSession, error)
	Load(bucket, key string) (*UploadSession, error)
	RecordPartUploaded(sess *UploadSession, partNumber int32, eTag string) error
	RecordPartFailed(sess *UploadSession, partNumber int32) error
	MarkCompleted(sess *UploadSession) error
	MarkAborted(sess *UploadSession) error
	Delete(bucket, key string) error
}

// FileStore persists one JSON state file per remote key under a state
// directory. Writes go to a temp file first and are renamed into place, so a
// reader never observes a partially written session.
type FileStore struct {
	dir     string
	starter UploadStarter
	logger  log.Logger

	// Serializes read-modify-persist cycles; upload workers report
	// completions concurrently.
	mu sync.Mutex
}

// NewFileStore creates a session store rooted at dir.
func NewFileStore(dir string, starter UploadStarter, logger log.Logger) *FileStore {
	return &FileStore{
		dir:     dir,
		starter: starter,
		logger:  logger,
	}
}

// statePath derives the state file name from the remote location, so uploads
// to different keys never share a file.
func (s *FileStore) statePath(bucket, key string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s/%s", bucket, key)))
	return filepath.Join(s.dir, hex.EncodeToString(hash[:])+".json")
}

// LoadOrCreate resumes a persisted in-progress session for bucket/key or
// starts a new multipart upload. A persisted session whose part list no
// longer matches the directory contents fails with ErrSessionMismatch. A
// terminal session on file is treated as finished business: a fresh upload
// attempt is started in its place.
func (s *FileStore) LoadOrCreate(ctx context.Context, bucket, key string, parts []inventory.Part, enc Encryption) (*UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(bucket, key)
	switch {
	case err == nil:
		if !sess.Terminal() {
			if err := sess.matchesInventory(parts); err != nil {
				return nil, err
			}
			s.logger.Debugf("Resuming session for s3://%s/%s (upload ID %s)", bucket, key, sess.UploadID)
			return sess, nil
		}
		s.logger.Debugf("Previous session for s3://%s/%s is %s, starting a new upload", bucket, key, sess.Status)
	case errors.Is(err, ErrSessionNotFound):
		// fall through to create
	default:
		return nil, err
	}

	uploadID, err := s.starter.StartUpload(ctx, bucket, key, enc)
	if err != nil {
		return nil, fmt.Errorf("create multipart upload: %w", err)
	}

	sess = newSession(bucket, key, uploadID, parts, enc)
	if err := s.persist(sess); err != nil {
		return nil, err
	}
	s.logger.Debugf("Started multipart upload for s3://%s/%s (upload ID %s)", bucket, key, uploadID)

	return sess, nil
}

// Load returns the persisted session for bucket/key, or ErrSessionNotFound.
func (s *FileStore) Load(bucket, key string) (*UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(bucket, key)
}

func (s *FileStore) load(bucket, key string) (*UploadSession, error) {
	path := s.statePath(bucket, key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var sess UploadSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", path, err, ErrSessionCorrupt)
	}
	if err := sess.validate(); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", path, err, ErrSessionCorrupt)
	}

	return &sess, nil
}

// RecordPartUploaded marks a part as uploaded with its ETag and persists the
// session before returning. A crash immediately after return never loses the
// completion.
func (s *FileStore) RecordPartUploaded(sess *UploadSession, partNumber int32, eTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.Terminal() {
		return fmt.Errorf("record part %d: %w", partNumber, ErrSessionTerminal)
	}
	if eTag == "" {
		return fmt.Errorf("record part %d: empty etag", partNumber)
	}

	idx, err := partIndex(sess, partNumber)
	if err != nil {
		return err
	}
	sess.Parts[idx].ETag = eTag
	sess.Parts[idx].Status = PartStatusUploaded

	return s.persist(sess)
}

// RecordPartFailed marks a part as failed after its retries are exhausted.
func (s *FileStore) RecordPartFailed(sess *UploadSession, partNumber int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.Terminal() {
		return fmt.Errorf("record part %d: %w", partNumber, ErrSessionTerminal)
	}

	idx, err := partIndex(sess, partNumber)
	if err != nil {
		return err
	}
	sess.Parts[idx].ETag = ""
	sess.Parts[idx].Status = PartStatusFailed

	return s.persist(sess)
}

// MarkCompleted transitions the session to its completed terminal state.
func (s *FileStore) MarkCompleted(sess *UploadSession) error {
	return s.markTerminal(sess, StatusCompleted)
}

// MarkAborted transitions the session to its aborted terminal state.
func (s *FileStore) MarkAborted(sess *UploadSession) error {
	return s.markTerminal(sess, StatusAborted)
}

func (s *FileStore) markTerminal(sess *UploadSession, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.Status == status {
		return nil
	}
	if sess.Terminal() {
		return fmt.Errorf("session is already %s: %w", sess.Status, ErrSessionTerminal)
	}
	sess.Status = status

	return s.persist(sess)
}

// Delete removes the persisted record. Only terminal sessions may be deleted;
// deleting an in-progress record would orphan the remote upload.
func (s *FileStore) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.load(bucket, key)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !sess.Terminal() {
		return fmt.Errorf("session for s3://%s/%s is still %s: %w", bucket, key, sess.Status, ErrSessionTerminal)
	}

	if err := os.Remove(s.statePath(bucket, key)); err != nil {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// persist writes the session with replace-on-write semantics.
func (s *FileStore) persist(sess *UploadSession) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("close session file: %w", err)
	}

	path := s.statePath(sess.Bucket, sess.RemoteKey)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("replace session file: %w", err)
	}

	return nil
}

func partIndex(sess *UploadSession, partNumber int32) (int, error) {
	for i, part := range sess.Parts {
		if part.PartNumber == partNumber {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no part %d in session for s3://%s/%s", partNumber, sess.Bucket, sess.RemoteKey)
}
