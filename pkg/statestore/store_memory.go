package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/cultivarhq/cultivar/pkg/serrors"
)

// MemoryStore is an in-process Store used by tests and single-node
// development setups. Expiry is evaluated lazily on access.
type MemoryStore struct {
	opts Options
	now  func() time.Time

	mu          sync.Mutex
	submissions map[string]*memEntry[Submission]
	files       map[string]*memEntry[FileRecord]
	userSubs    map[int64][]string
	userFiles   map[int64][]string
	attempts    map[string]*counter
	lockouts    map[string]time.Time
}

type memEntry[T any] struct {
	value   T
	expires time.Time
}

type counter struct {
	count   int
	expires time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the store's clock.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts Options, memOpts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		opts:        opts,
		now:         time.Now,
		submissions: make(map[string]*memEntry[Submission]),
		files:       make(map[string]*memEntry[FileRecord]),
		userSubs:    make(map[int64][]string),
		userFiles:   make(map[int64][]string),
		attempts:    make(map[string]*counter),
		lockouts:    make(map[string]time.Time),
	}
	for _, opt := range memOpts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) CreateSubmission(_ context.Context, agentID int64, id, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.submissions[id]; ok && e.expires.After(s.now()) {
		return serrors.IdentityExists("submission %s already exists", id)
	}
	s.submissions[id] = &memEntry[Submission]{
		value: Submission{
			ID:      id,
			AgentID: agentID,
			Data:    data,
			Status:  SubmissionPending,
		},
		expires: s.now().Add(s.opts.SubmissionTTL),
	}
	s.userSubs[agentID] = append(s.userSubs[agentID], id)
	return nil
}

func (s *MemoryStore) GetSubmission(_ context.Context, id string) (*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.submissions[id]
	if !ok || !e.expires.After(s.now()) {
		return nil, serrors.NoResultFound("submission %s not found", id)
	}
	out := e.value
	out.Errors = append([]string(nil), e.value.Errors...)
	out.ItemErrors = append([]string(nil), e.value.ItemErrors...)
	return &out, nil
}

func (s *MemoryStore) StartSubmission(_ context.Context, id string) error {
	return s.transition(id, SubmissionPending, SubmissionProcessing, nil)
}

func (s *MemoryStore) CompleteSubmission(_ context.Context, id string, datasetID int64) error {
	return s.transition(id, SubmissionProcessing, SubmissionCompleted, func(e *memEntry[Submission]) {
		e.value.Data = ""
		e.value.DatasetID = datasetID
		e.expires = s.now().Add(s.opts.CompletedTTL)
	})
}

func (s *MemoryStore) FailSubmission(_ context.Context, id string, errs, itemErrs []string) error {
	return s.transition(id, SubmissionProcessing, SubmissionFailed, func(e *memEntry[Submission]) {
		e.value.Errors = append([]string(nil), errs...)
		e.value.ItemErrors = append([]string(nil), itemErrs...)
	})
}

func (s *MemoryStore) transition(id string, from, to SubmissionStatus, extra func(*memEntry[Submission])) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.submissions[id]
	if !ok || !e.expires.After(s.now()) {
		return serrors.NoResultFound("submission %s not found", id)
	}
	if e.value.Status != from {
		return serrors.IllegalOperation("submission %s is %s, expected %s", id, e.value.Status, from)
	}
	e.value.Status = to
	if extra != nil {
		extra(e)
	}
	return nil
}

func (s *MemoryStore) ListSubmissions(_ context.Context, agentID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.userSubs[agentID] {
		if e, ok := s.submissions[id]; ok && e.expires.After(s.now()) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateFile(_ context.Context, agentID int64, id, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.files[id]; ok && e.expires.After(s.now()) {
		return serrors.IdentityExists("file %s already exists", id)
	}
	s.files[id] = &memEntry[FileRecord]{
		value: FileRecord{
			ID:       id,
			AgentID:  agentID,
			Filename: filename,
			Status:   FileUploading,
		},
		expires: s.now().Add(s.opts.FileTTL),
	}
	s.userFiles[agentID] = append(s.userFiles[agentID], id)
	return nil
}

func (s *MemoryStore) GetFile(_ context.Context, id string) (*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.files[id]
	if !ok || !e.expires.After(s.now()) {
		return nil, serrors.NoResultFound("file %s not found", id)
	}
	out := e.value
	out.Errors = append([]string(nil), e.value.Errors...)
	return &out, nil
}

func (s *MemoryStore) SetFileProgress(_ context.Context, id string, progress int) error {
	return s.updateFile(id, func(rec *FileRecord) {
		rec.Progress = progress
	})
}

func (s *MemoryStore) CompleteFile(_ context.Context, id string, fileID int64) error {
	return s.updateFile(id, func(rec *FileRecord) {
		rec.Status = FileStored
		rec.FileID = fileID
		rec.Progress = 100
	})
}

func (s *MemoryStore) FailFile(_ context.Context, id string, errs []string) error {
	return s.updateFile(id, func(rec *FileRecord) {
		rec.Status = FileFailed
		rec.Errors = append([]string(nil), errs...)
	})
}

func (s *MemoryStore) updateFile(id string, fn func(*FileRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.files[id]
	if !ok || !e.expires.After(s.now()) {
		return serrors.NoResultFound("file %s not found", id)
	}
	fn(&e.value)
	return nil
}

func (s *MemoryStore) ListFiles(_ context.Context, agentID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.userFiles[agentID] {
		if e, ok := s.files[id]; ok && e.expires.After(s.now()) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordLoginFailure(_ context.Context, identifier string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c, ok := s.attempts[identifier]
	if !ok || !c.expires.After(now) {
		c = &counter{expires: now.Add(s.opts.LockoutWindow)}
		s.attempts[identifier] = c
	}
	c.count++
	if c.count >= s.opts.LockoutThreshold {
		s.lockouts[identifier] = now.Add(s.opts.LockoutDuration)
		return c.count, true, nil
	}
	return c.count, false, nil
}

func (s *MemoryStore) IsLockedOut(_ context.Context, identifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.lockouts[identifier]
	return ok && until.After(s.now()), nil
}

func (s *MemoryStore) ResetLoginAttempts(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, identifier)
	delete(s.lockouts, identifier)
	return nil
}
