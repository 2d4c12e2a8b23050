package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clipbeat/api/internal/model"
	"github.com/clipbeat/api/internal/store"
)

// MaxRetries bounds transient-failure retries per job.
const MaxRetries = 3

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrTerminalState     = errors.New("job is in a terminal state")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// JobStore is the slice of the store the job services need. *store.Store
// satisfies it; tests substitute fakes.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	SaveJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	FindCompletedJobByURL(ctx context.Context, normalizedURL string) (*model.Job, error)
	ListJobsByUser(ctx context.Context, userID string, limit int) ([]*model.Job, error)
	CreateSong(ctx context.Context, song *model.Song) error
	ListSongsByJob(ctx context.Context, jobID string) ([]*model.Song, error)
}

// stageOrder is the forward edge set of the job lifecycle. The retry edge
// (any non-terminal -> queued) and the failure edge (any non-terminal ->
// failed) are uniform and handled in CanTransition directly.
var stageOrder = map[model.JobStatus][]model.JobStatus{
	model.JobStatusQueued:              {model.JobStatusDownloading},
	model.JobStatusDownloading:         {model.JobStatusRecognizingOriginal},
	model.JobStatusRecognizingOriginal: {model.JobStatusCompleted, model.JobStatusRemovingVocals},
	model.JobStatusRemovingVocals:      {model.JobStatusRecognizingStripped},
	model.JobStatusRecognizingStripped: {model.JobStatusCompleted, model.JobStatusFailed},
}

// CanTransition reports whether a job may move from one status to
// another. Terminal states have no outgoing edges.
func CanTransition(from, to model.JobStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == model.JobStatusFailed || to == model.JobStatusQueued {
		return true
	}
	for _, next := range stageOrder[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusUpdate carries the stage-specific fields written together with a
// status change.
type StatusUpdate struct {
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ProcessingTimeMs int64
	Error            string
	AudioFileKey     string
}

// JobService owns job lifecycle writes. The pipeline worker is its only
// mutating caller.
type JobService struct {
	store JobStore
}

func NewJobService(jobStore JobStore) *JobService {
	return &JobService{store: jobStore}
}

// Advance moves the job to newStatus, applying upd fields. Illegal
// transitions, including any write to a terminal job, are rejected.
func (s *JobService) Advance(ctx context.Context, jobID string, newStatus model.JobStatus, upd *StatusUpdate) (*model.Job, error) {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalState, job.Status)
	}
	if !CanTransition(job.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, job.Status, newStatus)
	}

	job.Status = newStatus
	if upd != nil {
		if upd.StartedAt != nil {
			job.StartedAt = upd.StartedAt
		}
		if upd.CompletedAt != nil {
			job.CompletedAt = upd.CompletedAt
		}
		if upd.ProcessingTimeMs > 0 {
			job.ProcessingTimeMs = upd.ProcessingTimeMs
		}
		if upd.Error != "" {
			errMsg := upd.Error
			job.Error = &errMsg
		}
		if upd.AudioFileKey != "" {
			job.AudioFileKey = upd.AudioFileKey
		}
	}

	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// RecordAttempt sets one recognition-strategy flag, merging with flags
// already set. Flags never reset.
func (s *JobService) RecordAttempt(ctx context.Context, jobID string, attempt model.RecognitionAttempt) error {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return err
	}

	switch attempt {
	case model.AttemptOriginal:
		job.RecognitionAttempts.Original = true
	case model.AttemptStripped:
		job.RecognitionAttempts.Stripped = true
	case model.AttemptSegments:
		job.RecognitionAttempts.Segments = true
	case model.AttemptACRCloud:
		job.RecognitionAttempts.ACRCloud = true
	default:
		return fmt.Errorf("unknown recognition attempt: %s", attempt)
	}

	return s.store.SaveJob(ctx, job)
}

// IncrementRetryAndRequeue bumps the retry counter, records the failure
// message and puts the job back in queued, as a single store write.
func (s *JobService) IncrementRetryAndRequeue(ctx context.Context, jobID string, errMsg string) (*model.Job, error) {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalState, job.Status)
	}

	job.RetryCount++
	job.Error = &errMsg
	job.Status = model.JobStatusQueued

	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Get returns the job with its songs, scoped to the owning user.
func (s *JobService) Get(ctx context.Context, userID, jobID string) (*model.JobResponse, error) {
	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}

	songs, err := s.store.ListSongsByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &model.JobResponse{Job: job, Songs: songs}, nil
}

// ListMine returns the user's jobs newest first, attaching songs to
// completed ones.
func (s *JobService) ListMine(ctx context.Context, userID string, limit int) ([]*model.JobResponse, error) {
	jobs, err := s.store.ListJobsByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]*model.JobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp := &model.JobResponse{Job: job, Songs: []*model.Song{}}
		if job.Status == model.JobStatusCompleted {
			songs, err := s.store.ListSongsByJob(ctx, job.ID)
			if err != nil {
				return nil, err
			}
			resp.Songs = songs
		}
		out = append(out, resp)
	}
	return out, nil
}

func (s *JobService) load(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}
