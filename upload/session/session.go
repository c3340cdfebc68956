// Package session owns the durable record of an in-progress multipart upload.
// All mutations go through the Store so a crash never loses an acknowledged
// part completion and a partially written state file is never read back as valid.
package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/davidjoliver86/s3multipart/upload/inventory"
)

// Status is the lifecycle state of an upload session.
type Status string

// Session lifecycle states. Completed and Aborted are terminal.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAborted    Status = "aborted"
)

// PartStatus is the per-part upload state.
type PartStatus string

// Part states. ETag is recorded iff the part is uploaded.
const (
	PartStatusPending  PartStatus = "pending"
	PartStatusUploaded PartStatus = "uploaded"
	PartStatusFailed   PartStatus = "failed"
)

// Encryption selects the server-side encryption requested when the multipart
// upload is created. Mode is "AES256" (the default), "aws:kms" or empty for
// none. For SSE-KMS, KMSKeyID may name a customer managed key.
type Encryption struct {
	Mode     string `json:"mode,omitempty"`
	KMSKeyID string `json:"kms_key_id,omitempty"`
}

// PartRecord tracks one part's local source and remote completion state.
type PartRecord struct {
	PartNumber int32      `json:"part_number"`
	LocalPath  string     `json:"local_path"`
	SizeBytes  int64      `json:"size_bytes"`
	ETag       string     `json:"etag,omitempty"`
	Status     PartStatus `json:"status"`
}

// CompletedPart is a (part number, ETag) pair for the final assembly call.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// UploadSession is the durable record of one multipart upload attempt.
// UploadID is immutable once assigned; Parts are ordered 1..N with no gaps.
type UploadSession struct {
	Bucket     string       `json:"bucket"`
	RemoteKey  string       `json:"remote_key"`
	UploadID   string       `json:"upload_id"`
	Encryption Encryption   `json:"encryption"`
	Parts      []PartRecord `json:"parts"`
	CreatedAt  time.Time    `json:"created_at"`
	Status     Status       `json:"status"`
}

// ErrSessionCorrupt is returned when a persisted session file cannot be read
// back as a valid session. Corruption is never papered over.
var ErrSessionCorrupt = errors.New("session state file is corrupt")

// ErrSessionMismatch is returned when the local part files no longer match a
// previously persisted in-progress session.
var ErrSessionMismatch = errors.New("local parts do not match persisted session")

// ErrSessionNotFound is returned when no session is persisted for a remote key.
var ErrSessionNotFound = errors.New("no session found for key")

// ErrSessionTerminal is returned on attempts to mutate a completed or aborted session.
var ErrSessionTerminal = errors.New("session is in a terminal state")

// Terminal reports whether the session can no longer be mutated.
func (s *UploadSession) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusAborted
}

// Part returns the record for the given part number.
func (s *UploadSession) Part(partNumber int32) (PartRecord, bool) {
	for _, part := range s.Parts {
		if part.PartNumber == partNumber {
			return part, true
		}
	}
	return PartRecord{}, false
}

// PendingParts returns the parts still to be uploaded, in part number order.
func (s *UploadSession) PendingParts() []PartRecord {
	var pending []PartRecord
	for _, part := range s.Parts {
		if part.Status != PartStatusUploaded {
			pending = append(pending, part)
		}
	}
	return pending
}

// AllUploaded reports whether every part has been uploaded.
func (s *UploadSession) AllUploaded() bool {
	for _, part := range s.Parts {
		if part.Status != PartStatusUploaded {
			return false
		}
	}
	return true
}

// CompletedParts returns the (part number, ETag) pairs of all uploaded parts,
// sorted by part number regardless of upload completion order.
func (s *UploadSession) CompletedParts() []CompletedPart {
	var completed []CompletedPart
	for _, part := range s.Parts {
		if part.Status == PartStatusUploaded {
			completed = append(completed, CompletedPart{PartNumber: part.PartNumber, ETag: part.ETag})
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].PartNumber < completed[j].PartNumber
	})
	return completed
}

// validate checks the structural invariants of a session read back from disk.
func (s *UploadSession) validate() error {
	if s.Bucket == "" || s.RemoteKey == "" {
		return fmt.Errorf("missing bucket or key")
	}
	if s.UploadID == "" && s.Status != StatusPending {
		return fmt.Errorf("missing upload id")
	}
	if len(s.Parts) == 0 {
		return fmt.Errorf("no parts")
	}
	for i, part := range s.Parts {
		if part.PartNumber != int32(i+1) {
			return fmt.Errorf("part %d out of order (found %d)", i+1, part.PartNumber)
		}
		if (part.Status == PartStatusUploaded) != (part.ETag != "") {
			return fmt.Errorf("part %d: etag and status disagree", part.PartNumber)
		}
	}
	switch s.Status {
	case StatusPending, StatusInProgress, StatusCompleted, StatusAborted:
	default:
		return fmt.Errorf("unknown status %q", s.Status)
	}
	return nil
}

// matchesInventory verifies the current on-disk parts are the ones this
// session was created from: same count and same sizes per part number.
func (s *UploadSession) matchesInventory(parts []inventory.Part) error {
	if len(parts) != len(s.Parts) {
		return fmt.Errorf("session has %d parts, directory has %d: %w", len(s.Parts), len(parts), ErrSessionMismatch)
	}
	for i, part := range parts {
		if part.SizeBytes != s.Parts[i].SizeBytes {
			return fmt.Errorf("part %d size changed from %d to %d bytes: %w",
				part.Number, s.Parts[i].SizeBytes, part.SizeBytes, ErrSessionMismatch)
		}
	}
	return nil
}

// newSession builds an in-progress session from the inventory.
func newSession(bucket, remoteKey, uploadID string, parts []inventory.Part, enc Encryption) *UploadSession {
	records := make([]PartRecord, 0, len(parts))
	for _, part := range parts {
		records = append(records, PartRecord{
			PartNumber: part.Number,
			LocalPath:  part.LocalPath,
			SizeBytes:  part.SizeBytes,
			Status:     PartStatusPending,
		})
	}
	return &UploadSession{
		Bucket:     bucket,
		RemoteKey:  remoteKey,
		UploadID:   uploadID,
		Encryption: enc,
		Parts:      records,
		CreatedAt:  time.Now().UTC(),
		Status:     StatusInProgress,
	}
}
