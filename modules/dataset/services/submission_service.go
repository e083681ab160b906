package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cultivarhq/cultivar/pkg/eventbus"
	"github.com/cultivarhq/cultivar/pkg/serrors"
	"github.com/cultivarhq/cultivar/pkg/statestore"
)

// SubmitDataset is the authenticated submission command: the token
// proves the agent, the identity keys the brute-force counter.
type SubmitDataset struct {
	Identity     string
	Token        string
	SubmissionID string
	Payload      string
}

// SubmissionReceived announces a stored submission awaiting processing.
type SubmissionReceived struct {
	SubmissionID string
	AgentID      int64
}

// submissionPayload is the accepted upload shape: one dataset, many
// records.
type submissionPayload struct {
	DatasetID int64 `json:"dataset_id"`
	Records   []struct {
		UnitID int64      `json:"unit_id"`
		Value  string     `json:"value"`
		Start  time.Time  `json:"start"`
		End    *time.Time `json:"end"`
	} `json:"records"`
}

// SubmissionService runs dataset uploads through the state-store
// workflow: accept the payload, hand it to a worker via the bus, then
// append the records and settle the submission as completed or failed.
type SubmissionService struct {
	store     statestore.Store
	datasets  *DatasetService
	publisher eventbus.EventBus
}

func NewSubmissionService(store statestore.Store, datasets *DatasetService, publisher eventbus.EventBus) *SubmissionService {
	return &SubmissionService{store: store, datasets: datasets, publisher: publisher}
}

// Submit stores the raw payload as a pending submission and announces
// it. Processing happens asynchronously. An empty id gets a generated
// one; the id is returned either way.
func (s *SubmissionService) Submit(ctx context.Context, agentID int64, id, data string) (string, error) {
	if data == "" {
		return "", serrors.IllegalOperation("submission requires a payload")
	}
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.store.CreateSubmission(ctx, agentID, id, data); err != nil {
		return "", err
	}
	s.publisher.Publish(SubmissionReceived{SubmissionID: id, AgentID: agentID})
	return id, nil
}

// Status reads the submission back for its owner.
func (s *SubmissionService) Status(ctx context.Context, id string) (*statestore.Submission, error) {
	return s.store.GetSubmission(ctx, id)
}

// Process drains one pending submission: parse, append every record,
// then complete or fail. A record that cannot be appended becomes an
// item error without aborting the rest, and any item error fails the
// whole submission.
func (s *SubmissionService) Process(ctx context.Context, id string) error {
	submission, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.StartSubmission(ctx, id); err != nil {
		return err
	}

	var payload submissionPayload
	if err := json.Unmarshal([]byte(submission.Data), &payload); err != nil {
		return s.store.FailSubmission(ctx, id, []string{fmt.Sprintf("unreadable payload: %v", err)}, nil)
	}
	if payload.DatasetID == 0 || len(payload.Records) == 0 {
		return s.store.FailSubmission(ctx, id, []string{"payload names no dataset or records"}, nil)
	}

	var itemErrs []string
	appended := 0
	for i, record := range payload.Records {
		_, err := s.datasets.AddRecord(ctx, AddRecord{
			DatasetID: payload.DatasetID,
			UnitID:    record.UnitID,
			Value:     record.Value,
			Start:     record.Start,
			End:       record.End,
		})
		if err != nil {
			if serrors.IsUnauthorised(err) {
				return s.store.FailSubmission(ctx, id, []string{err.Error()}, nil)
			}
			itemErrs = append(itemErrs, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		appended++
	}

	// Any rejected record fails the submission; the payload and item
	// errors stay behind so the caller can fix and resubmit.
	if len(itemErrs) > 0 || appended == 0 {
		return s.store.FailSubmission(ctx, id, nil, itemErrs)
	}
	return s.store.CompleteSubmission(ctx, id, payload.DatasetID)
}
