// Package statestore holds request-scoped scratch state that outlives a
// single command: dataset submission progress, upload file lifecycle
// markers and login brute-force counters. Any KV store with expiry
// satisfies the contract; the engine ships a Redis implementation and a
// memory twin for tests.
package statestore

import (
	"context"
	"time"
)

type SubmissionStatus string

const (
	SubmissionPending    SubmissionStatus = "PENDING"
	SubmissionProcessing SubmissionStatus = "PROCESSING"
	SubmissionCompleted  SubmissionStatus = "COMPLETED"
	SubmissionFailed     SubmissionStatus = "FAILED"
)

type FileStatus string

const (
	FileUploading FileStatus = "UPLOADING"
	FileStored    FileStatus = "STORED"
	FileFailed    FileStatus = "FAILED"
)

// Submission tracks one dataset upload through its workflow.
type Submission struct {
	ID         string
	AgentID    int64
	Data       string
	Status     SubmissionStatus
	DatasetID  int64
	Errors     []string
	ItemErrors []string
}

// FileRecord tracks one uploaded file.
type FileRecord struct {
	ID       string
	AgentID  int64
	Filename string
	Status   FileStatus
	Progress int
	FileID   int64
	Errors   []string
}

// Options carries the TTL and lockout tuning the store applies.
type Options struct {
	SubmissionTTL    time.Duration
	CompletedTTL     time.Duration
	FileTTL          time.Duration
	LockoutThreshold int
	LockoutWindow    time.Duration
	LockoutDuration  time.Duration
}

// Store is the state-store contract.
//
// Submission transitions follow PENDING → PROCESSING → (COMPLETED |
// FAILED). Completion drops the bulky payload and resets expiry to the
// retention window; failure keeps payload and errors until TTL.
type Store interface {
	CreateSubmission(ctx context.Context, agentID int64, id, data string) error
	GetSubmission(ctx context.Context, id string) (*Submission, error)
	StartSubmission(ctx context.Context, id string) error
	CompleteSubmission(ctx context.Context, id string, datasetID int64) error
	FailSubmission(ctx context.Context, id string, errs, itemErrs []string) error
	ListSubmissions(ctx context.Context, agentID int64) ([]string, error)

	CreateFile(ctx context.Context, agentID int64, id, filename string) error
	GetFile(ctx context.Context, id string) (*FileRecord, error)
	SetFileProgress(ctx context.Context, id string, progress int) error
	CompleteFile(ctx context.Context, id string, fileID int64) error
	FailFile(ctx context.Context, id string, errs []string) error
	ListFiles(ctx context.Context, agentID int64) ([]string, error)

	// RecordLoginFailure atomically counts a failed attempt within the
	// lockout window; reaching the threshold writes the lockout key.
	RecordLoginFailure(ctx context.Context, identifier string) (attempts int, locked bool, err error)
	IsLockedOut(ctx context.Context, identifier string) (bool, error)
	ResetLoginAttempts(ctx context.Context, identifier string) error
}
