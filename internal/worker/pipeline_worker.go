package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/clipbeat/api/internal/client"
	"github.com/clipbeat/api/internal/model"
	"github.com/clipbeat/api/internal/service"
	"github.com/clipbeat/api/internal/store"
)

const noMatchMessage = "Could not identify music"

// PipelineWorker drives one job through download, recognition with the
// vocal-strip fallback, persistence and notification. It is the single
// writer of job status; every stage write commits before the external
// call it announces, so observers always see the stage in progress.
type PipelineWorker struct {
	jobs       *service.JobService
	jobStore   service.JobStore
	users      service.UserStore
	trending   *service.TrendingService
	scheduler  service.TaskScheduler
	downloader client.VideoDownloader
	separator  client.AudioSeparator
	recognizer client.MusicRecognizer
	storage    client.StorageClient
	notifier   client.PushNotifier
	httpClient *http.Client
}

func NewPipelineWorker(
	jobs *service.JobService,
	jobStore service.JobStore,
	users service.UserStore,
	trending *service.TrendingService,
	scheduler service.TaskScheduler,
	downloader client.VideoDownloader,
	separator client.AudioSeparator,
	recognizer client.MusicRecognizer,
	storage client.StorageClient,
	notifier client.PushNotifier,
) *PipelineWorker {
	return &PipelineWorker{
		jobs:       jobs,
		jobStore:   jobStore,
		users:      users,
		trending:   trending,
		scheduler:  scheduler,
		downloader: downloader,
		separator:  separator,
		recognizer: recognizer,
		storage:    storage,
		notifier:   notifier,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// ProcessTask handles one pipeline run for a job id.
func (w *PipelineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.ProcessJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	job, err := w.jobStore.GetJob(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("Pipeline: job %s no longer exists, dropping task", payload.JobID)
			return nil
		}
		return err
	}

	// Duplicate scheduling defense: a terminal job is never re-run.
	if job.Status.Terminal() {
		log.Printf("Pipeline: job %s already %s, dropping task", job.ID, job.Status)
		return nil
	}

	log.Printf("Pipeline: processing job %s (%s, retry %d)", job.ID, job.Platform, job.RetryCount)

	if err := w.run(ctx, job); err != nil {
		w.handleFailure(ctx, job, err)
	}
	return nil
}

// run executes stages 2–6. Any returned error is treated as transient by
// handleFailure unless it is the fatal no-provider condition. The
// business "no match" outcome is not an error; run handles it inline.
func (w *PipelineWorker) run(ctx context.Context, job *model.Job) error {
	startedAt := time.Now()

	if _, err := w.jobs.Advance(ctx, job.ID, model.JobStatusDownloading, &service.StatusUpdate{StartedAt: &startedAt}); err != nil {
		return err
	}

	download, err := w.downloader.Download(ctx, job.SourceURL, job.Platform)
	if err != nil {
		return err
	}

	audioURL, audioKey, err := w.persistAudio(ctx, job.ID, download.AudioURL)
	if err != nil {
		return err
	}

	if _, err := w.jobs.Advance(ctx, job.ID, model.JobStatusRecognizingOriginal, &service.StatusUpdate{AudioFileKey: audioKey}); err != nil {
		return err
	}
	if err := w.jobs.RecordAttempt(ctx, job.ID, model.AttemptOriginal); err != nil {
		return err
	}

	candidates, err := w.recognizer.Identify(ctx, audioURL)
	if err != nil {
		return err
	}

	if len(candidates) == 0 {
		if _, err := w.jobs.Advance(ctx, job.ID, model.JobStatusRemovingVocals, nil); err != nil {
			return err
		}

		separation, err := w.separator.Separate(ctx, audioURL)
		if err != nil {
			return err
		}

		if _, err := w.jobs.Advance(ctx, job.ID, model.JobStatusRecognizingStripped, nil); err != nil {
			return err
		}
		if err := w.jobs.RecordAttempt(ctx, job.ID, model.AttemptStripped); err != nil {
			return err
		}

		candidates, err = w.recognizer.Identify(ctx, separation.AccompanimentURL)
		if err != nil {
			return err
		}
	}

	deduped := DedupeSongs(candidates)

	if len(deduped) == 0 {
		// Business outcome, not an infrastructure failure: both
		// strategies ran clean and found nothing. Terminal, no retry.
		failed, err := w.jobs.Advance(ctx, job.ID, model.JobStatusFailed, &service.StatusUpdate{Error: noMatchMessage})
		if err != nil {
			return err
		}
		w.removeStoredAudio(ctx, failed)
		w.notifyFailed(ctx, job)
		return nil
	}

	now := time.Now()
	for _, candidate := range deduped {
		song := songFromCandidate(job, candidate, now)
		if err := w.jobStore.CreateSong(ctx, song); err != nil {
			return err
		}
		if song.ISRC != "" {
			if err := w.trending.Record(ctx, song, job.NormalizedSourceURL); err != nil {
				log.Printf("Pipeline: trending update failed for job %s: %v", job.ID, err)
			}
		}
	}

	completedAt := time.Now()
	if _, err := w.jobs.Advance(ctx, job.ID, model.JobStatusCompleted, &service.StatusUpdate{
		CompletedAt:      &completedAt,
		ProcessingTimeMs: completedAt.Sub(startedAt).Milliseconds(),
	}); err != nil {
		return err
	}

	w.notifyComplete(ctx, job, deduped[0].Title, deduped[0].Artist)
	log.Printf("Pipeline: job %s completed with %d song(s) in %s", job.ID, len(deduped), completedAt.Sub(startedAt))
	return nil
}

// persistAudio re-uploads the extracted audio into our own object
// storage so later stages read from a stable URL. Without storage
// configured the provider URL is used directly.
func (w *PipelineWorker) persistAudio(ctx context.Context, jobID, sourceAudioURL string) (audioURL, key string, err error) {
	if w.storage == nil {
		return sourceAudioURL, "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceAudioURL, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("failed to fetch audio (status %d)", resp.StatusCode)
	}

	key = fmt.Sprintf("audio/%s.mp3", jobID)
	url, err := w.storage.Upload(ctx, key, resp.Body, "audio/mpeg")
	if err != nil {
		return "", "", fmt.Errorf("failed to store audio: %w", err)
	}
	return url, key, nil
}

// handleFailure applies the retry policy: fatal configuration errors and
// exhausted retry budgets end the job; anything else requeues with
// exponential backoff scheduled through the durable task queue.
func (w *PipelineWorker) handleFailure(ctx context.Context, job *model.Job, cause error) {
	log.Printf("Pipeline: job %s failed: %v", job.ID, cause)

	if errors.Is(cause, client.ErrNoProviderConfigured) {
		// Retrying reproduces the same failure; fail fast instead of
		// burning the retry budget.
		w.failJob(ctx, job, cause)
		return
	}

	current, err := w.jobStore.GetJob(ctx, job.ID)
	if err != nil {
		log.Printf("Pipeline: failed to reload job %s: %v", job.ID, err)
		return
	}
	if current.Status.Terminal() {
		return
	}

	if current.RetryCount < service.MaxRetries {
		backoff := time.Duration(1<<current.RetryCount) * time.Second
		if _, err := w.jobs.IncrementRetryAndRequeue(ctx, job.ID, cause.Error()); err != nil {
			log.Printf("Pipeline: failed to requeue job %s: %v", job.ID, err)
			return
		}
		if err := w.scheduler.ScheduleProcess(ctx, job.ID, current.Priority, backoff); err != nil {
			log.Printf("Pipeline: failed to schedule retry for job %s: %v", job.ID, err)
			return
		}
		log.Printf("Pipeline: job %s requeued (retry %d, backoff %s)", job.ID, current.RetryCount+1, backoff)
		return
	}

	w.failJob(ctx, job, cause)
}

func (w *PipelineWorker) failJob(ctx context.Context, job *model.Job, cause error) {
	failed, err := w.jobs.Advance(ctx, job.ID, model.JobStatusFailed, &service.StatusUpdate{Error: cause.Error()})
	if err != nil {
		log.Printf("Pipeline: failed to mark job %s failed: %v", job.ID, err)
		return
	}
	w.removeStoredAudio(ctx, failed)
	w.notifyFailed(ctx, job)
}

// removeStoredAudio drops the extracted audio asset of a failed job.
// Completed jobs keep theirs so the app can replay the sample. Removal
// failure is only logged; the asset leaks but the job outcome stands.
func (w *PipelineWorker) removeStoredAudio(ctx context.Context, job *model.Job) {
	if w.storage == nil || job.AudioFileKey == "" {
		return
	}
	if err := w.storage.Delete(ctx, job.AudioFileKey); err != nil {
		log.Printf("Pipeline: failed to delete audio %s for job %s: %v", job.AudioFileKey, job.ID, err)
	}
}

// notifyComplete and notifyFailed are best-effort: push delivery failure
// never fails a job.
func (w *PipelineWorker) notifyComplete(ctx context.Context, job *model.Job, title, artist string) {
	token := w.pushToken(ctx, job.UserID)
	if token == "" {
		return
	}
	data := map[string]string{"jobId": job.ID, "url": "clipbeat://job/" + job.ID}
	if err := w.notifier.Send(ctx, token, "Song Found! 🎵", fmt.Sprintf("%s by %s", title, artist), data); err != nil {
		log.Printf("Pipeline: completion push for job %s failed: %v", job.ID, err)
	}
}

func (w *PipelineWorker) notifyFailed(ctx context.Context, job *model.Job) {
	token := w.pushToken(ctx, job.UserID)
	if token == "" {
		return
	}
	data := map[string]string{"jobId": job.ID, "url": "clipbeat://job/" + job.ID}
	if err := w.notifier.Send(ctx, token, "Couldn't identify this one 😕", "Tap to try again", data); err != nil {
		log.Printf("Pipeline: failure push for job %s failed: %v", job.ID, err)
	}
}

func (w *PipelineWorker) pushToken(ctx context.Context, userID string) string {
	if w.notifier == nil {
		return ""
	}
	user, err := w.users.GetUser(ctx, userID)
	if err != nil {
		return ""
	}
	return user.PushToken
}

func songFromCandidate(job *model.Job, c client.RecognizedSong, now time.Time) *model.Song {
	return &model.Song{
		ID:                 uuid.New().String(),
		JobID:              job.ID,
		UserID:             job.UserID,
		Title:              c.Title,
		Artist:             c.Artist,
		Album:              c.Album,
		ReleaseDate:        c.ReleaseDate,
		DurationMs:         c.DurationMs,
		ISRC:               c.ISRC,
		SpotifyURL:         c.SpotifyURL,
		AppleMusicURL:      c.AppleMusicURL,
		YouTubeURL:         c.YouTubeURL,
		ArtworkURL:         c.ArtworkURL,
		Confidence:         c.Confidence,
		MatchedAtSeconds:   c.MatchedAtSeconds,
		RecognitionService: c.RecognitionService,
		CreatedAt:          now,
	}
}
