package services

import (
	"context"

	"github.com/cultivarhq/cultivar/pkg/serrors"
	"github.com/cultivarhq/cultivar/pkg/statestore"
)

// BeginUpload registers a payload upload for the acting agent.
type BeginUpload struct {
	UploadID string
	Filename string
}

// FinishUpload settles an upload: with errors it fails, otherwise it
// completes under the assigned file id.
type FinishUpload struct {
	UploadID string
	FileID   int64
	Errors   []string
}

// FileService tracks payload uploads through the state store. Files
// arrive in chunks out of band; the store keeps the lifecycle marker an
// agent polls while the transfer runs.
type FileService struct {
	store statestore.Store
}

func NewFileService(store statestore.Store) *FileService {
	return &FileService{store: store}
}

// Begin registers an upload for an agent.
func (s *FileService) Begin(ctx context.Context, agentID int64, id, filename string) error {
	if id == "" || filename == "" {
		return serrors.IllegalOperation("upload requires an id and a filename")
	}
	return s.store.CreateFile(ctx, agentID, id, filename)
}

// Progress records how much of the file has arrived, in percent.
func (s *FileService) Progress(ctx context.Context, id string, progress int) error {
	if progress < 0 || progress > 100 {
		return serrors.IllegalOperation("progress %d is not a percentage", progress)
	}
	return s.store.SetFileProgress(ctx, id, progress)
}

// Complete marks the upload stored under its assigned file id.
func (s *FileService) Complete(ctx context.Context, id string, fileID int64) error {
	return s.store.CompleteFile(ctx, id, fileID)
}

// Fail abandons the upload, keeping the errors for the agent to read.
func (s *FileService) Fail(ctx context.Context, id string, errs []string) error {
	return s.store.FailFile(ctx, id, errs)
}

// Status reads the upload marker back.
func (s *FileService) Status(ctx context.Context, id string) (*statestore.FileRecord, error) {
	return s.store.GetFile(ctx, id)
}

// List returns the upload ids an agent owns.
func (s *FileService) List(ctx context.Context, agentID int64) ([]string, error) {
	return s.store.ListFiles(ctx, agentID)
}
