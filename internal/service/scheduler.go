package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/clipbeat/api/internal/model"
)

const TaskTypeProcessJob = "pipeline:process"

// ProcessJobPayload is the task payload carrying the job id
type ProcessJobPayload struct {
	JobID string `json:"jobId"`
}

// NewProcessJobTask builds the asynq task for one pipeline run
func NewProcessJobTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(ProcessJobPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeProcessJob, data), nil
}

// TaskScheduler schedules a pipeline run for a job, optionally delayed.
// The delay is stored with the task, so it survives a process restart.
type TaskScheduler interface {
	ScheduleProcess(ctx context.Context, jobID string, priority model.Priority, delay time.Duration) error
}

// Scheduler implements TaskScheduler on asynq. Jobs are routed to the
// "high" or "normal" queue by priority; queue weights in the worker
// server give high-priority jobs preferential dequeue.
type Scheduler struct {
	client *asynq.Client
}

func NewScheduler(asynqClient *asynq.Client) *Scheduler {
	return &Scheduler{client: asynqClient}
}

func (s *Scheduler) ScheduleProcess(ctx context.Context, jobID string, priority model.Priority, delay time.Duration) error {
	task, err := NewProcessJobTask(jobID)
	if err != nil {
		return err
	}

	// MaxRetry(0): retry bookkeeping lives on the job record, and the
	// worker re-enqueues with its own backoff. Letting asynq retry too
	// would double-count attempts.
	opts := []asynq.Option{
		asynq.Queue(string(priority)),
		asynq.MaxRetry(0),
		asynq.Retention(24 * time.Hour),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	_, err = s.client.EnqueueContext(ctx, task, opts...)
	return err
}
