package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/clipbeat/api/internal/model"
)

func jobKey(id string) string         { return fmt.Sprintf("job:%s", id) }
func userJobsKey(userID string) string { return fmt.Sprintf("user:jobs:%s", userID) }
func urlIndexKey(normalized string) string {
	return fmt.Sprintf("jobs:url:%s", normalized)
}

// CreateJob stores the job and registers it in the per-user and
// per-normalized-URL indexes.
func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	pipe.LPush(ctx, userJobsKey(job.UserID), job.ID)
	pipe.SAdd(ctx, urlIndexKey(job.NormalizedSourceURL), job.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// SaveJob overwrites the job document. Index membership never changes
// after creation, so no index writes are needed here.
func (s *Store) SaveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, 0).Err()
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// FindCompletedJobByURL returns any completed job with the given normalized
// source URL, or ErrNotFound. Used for the cache fast path on submission.
func (s *Store) FindCompletedJobByURL(ctx context.Context, normalizedURL string) (*model.Job, error) {
	ids, err := s.redis.SMembers(ctx, urlIndexKey(normalizedURL)).Result()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		if job.Status == model.JobStatusCompleted {
			return job, nil
		}
	}
	return nil, ErrNotFound
}

// ListJobsByUser returns the user's jobs newest first.
func (s *Store) ListJobsByUser(ctx context.Context, userID string, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := s.redis.LRange(ctx, userJobsKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
