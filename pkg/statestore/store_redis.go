package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/cultivarhq/cultivar/pkg/serrors"
)

const (
	submissionKeyPrefix    = "submission:"
	fileKeyPrefix          = "file:"
	userSubmissionsPattern = "user:%d:submissions"
	userFilesPattern       = "user:%d:files"
	loginAttemptsPrefix    = "login_attempts:"
	loginLockoutPrefix     = "login_lockout:"
)

// RedisStore is the production Store backed by a shared Redis.
type RedisStore struct {
	client *redis.Client
	opts   Options
}

func NewRedisStore(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{client: client, opts: opts}
}

func (s *RedisStore) CreateSubmission(ctx context.Context, agentID int64, id, data string) error {
	key := submissionKeyPrefix + id
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return transient(err)
	}
	if exists > 0 {
		return serrors.IdentityExists("submission %s already exists", id)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"agent":  agentID,
		"data":   data,
		"status": string(SubmissionPending),
	})
	pipe.Expire(ctx, key, s.opts.SubmissionTTL)
	pipe.SAdd(ctx, fmt.Sprintf(userSubmissionsPattern, agentID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return transient(err)
	}
	return nil
}

func (s *RedisStore) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	fields, err := s.client.HGetAll(ctx, submissionKeyPrefix+id).Result()
	if err != nil {
		return nil, transient(err)
	}
	if len(fields) == 0 {
		return nil, serrors.NoResultFound("submission %s not found", id)
	}
	sub := &Submission{
		ID:     id,
		Data:   fields["data"],
		Status: SubmissionStatus(fields["status"]),
	}
	sub.AgentID, _ = strconv.ParseInt(fields["agent"], 10, 64)
	sub.DatasetID, _ = strconv.ParseInt(fields["dataset_id"], 10, 64)
	sub.Errors = decodeList(fields["errors"])
	sub.ItemErrors = decodeList(fields["item_errors"])
	return sub, nil
}

func (s *RedisStore) StartSubmission(ctx context.Context, id string) error {
	return s.transitionSubmission(ctx, id, SubmissionPending, SubmissionProcessing, nil)
}

func (s *RedisStore) CompleteSubmission(ctx context.Context, id string, datasetID int64) error {
	return s.transitionSubmission(ctx, id, SubmissionProcessing, SubmissionCompleted, func(pipe redis.Pipeliner, key string) {
		// The bulky payload is dropped on success; only the outcome is
		// retained for the retention window.
		pipe.HDel(ctx, key, "data")
		pipe.HSet(ctx, key, "dataset_id", datasetID)
		pipe.Expire(ctx, key, s.opts.CompletedTTL)
	})
}

func (s *RedisStore) FailSubmission(ctx context.Context, id string, errs, itemErrs []string) error {
	return s.transitionSubmission(ctx, id, SubmissionProcessing, SubmissionFailed, func(pipe redis.Pipeliner, key string) {
		pipe.HSet(ctx, key, "errors", encodeList(errs), "item_errors", encodeList(itemErrs))
	})
}

func (s *RedisStore) transitionSubmission(ctx context.Context, id string, from, to SubmissionStatus, extra func(redis.Pipeliner, string)) error {
	key := submissionKeyPrefix + id
	current, err := s.client.HGet(ctx, key, "status").Result()
	if errors.Is(err, redis.Nil) {
		return serrors.NoResultFound("submission %s not found", id)
	}
	if err != nil {
		return transient(err)
	}
	if SubmissionStatus(current) != from {
		return serrors.IllegalOperation("submission %s is %s, expected %s", id, current, from)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "status", string(to))
	if extra != nil {
		extra(pipe, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return transient(err)
	}
	return nil
}

func (s *RedisStore) ListSubmissions(ctx context.Context, agentID int64) ([]string, error) {
	ids, err := s.client.SMembers(ctx, fmt.Sprintf(userSubmissionsPattern, agentID)).Result()
	if err != nil {
		return nil, transient(err)
	}
	return ids, nil
}

func (s *RedisStore) CreateFile(ctx context.Context, agentID int64, id, filename string) error {
	key := fileKeyPrefix + id
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return transient(err)
	}
	if exists > 0 {
		return serrors.IdentityExists("file %s already exists", id)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"agent":    agentID,
		"filename": filename,
		"status":   string(FileUploading),
		"progress": 0,
	})
	pipe.Expire(ctx, key, s.opts.FileTTL)
	pipe.SAdd(ctx, fmt.Sprintf(userFilesPattern, agentID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return transient(err)
	}
	return nil
}

func (s *RedisStore) GetFile(ctx context.Context, id string) (*FileRecord, error) {
	fields, err := s.client.HGetAll(ctx, fileKeyPrefix+id).Result()
	if err != nil {
		return nil, transient(err)
	}
	if len(fields) == 0 {
		return nil, serrors.NoResultFound("file %s not found", id)
	}
	rec := &FileRecord{
		ID:       id,
		Filename: fields["filename"],
		Status:   FileStatus(fields["status"]),
	}
	rec.AgentID, _ = strconv.ParseInt(fields["agent"], 10, 64)
	rec.FileID, _ = strconv.ParseInt(fields["file_id"], 10, 64)
	rec.Progress, _ = strconv.Atoi(fields["progress"])
	rec.Errors = decodeList(fields["errors"])
	return rec, nil
}

func (s *RedisStore) SetFileProgress(ctx context.Context, id string, progress int) error {
	key := fileKeyPrefix + id
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return transient(err)
	}
	if exists == 0 {
		return serrors.NoResultFound("file %s not found", id)
	}
	if err := s.client.HSet(ctx, key, "progress", progress).Err(); err != nil {
		return transient(err)
	}
	return nil
}

func (s *RedisStore) CompleteFile(ctx context.Context, id string, fileID int64) error {
	key := fileKeyPrefix + id
	if err := s.client.HSet(ctx, key, "status", string(FileStored), "file_id", fileID, "progress", 100).Err(); err != nil {
		return transient(err)
	}
	return nil
}

func (s *RedisStore) FailFile(ctx context.Context, id string, errs []string) error {
	key := fileKeyPrefix + id
	if err := s.client.HSet(ctx, key, "status", string(FileFailed), "errors", encodeList(errs)).Err(); err != nil {
		return transient(err)
	}
	return nil
}

func (s *RedisStore) ListFiles(ctx context.Context, agentID int64) ([]string, error) {
	ids, err := s.client.SMembers(ctx, fmt.Sprintf(userFilesPattern, agentID)).Result()
	if err != nil {
		return nil, transient(err)
	}
	return ids, nil
}

func (s *RedisStore) RecordLoginFailure(ctx context.Context, identifier string) (int, bool, error) {
	key := loginAttemptsPrefix + identifier
	attempts, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, false, transient(err)
	}
	if attempts == 1 {
		if err := s.client.Expire(ctx, key, s.opts.LockoutWindow).Err(); err != nil {
			return int(attempts), false, transient(err)
		}
	}
	if int(attempts) >= s.opts.LockoutThreshold {
		if err := s.client.Set(ctx, loginLockoutPrefix+identifier, "1", s.opts.LockoutDuration).Err(); err != nil {
			return int(attempts), false, transient(err)
		}
		return int(attempts), true, nil
	}
	return int(attempts), false, nil
}

func (s *RedisStore) IsLockedOut(ctx context.Context, identifier string) (bool, error) {
	_, err := s.client.Get(ctx, loginLockoutPrefix+identifier).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, transient(err)
	}
	return true, nil
}

func (s *RedisStore) ResetLoginAttempts(ctx context.Context, identifier string) error {
	if err := s.client.Del(ctx, loginAttemptsPrefix+identifier, loginLockoutPrefix+identifier).Err(); err != nil {
		return transient(err)
	}
	return nil
}

func transient(err error) error {
	return serrors.Transient("state store: %v", err)
}

func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func decodeList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
