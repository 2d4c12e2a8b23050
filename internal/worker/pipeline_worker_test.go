package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/clipbeat/api/internal/client"
	"github.com/clipbeat/api/internal/model"
	"github.com/clipbeat/api/internal/service"
	"github.com/clipbeat/api/internal/store"
)

// memStore is an in-memory JobStore/UserStore/TrendingStore for worker tests.
type memStore struct {
	jobs    map[string]*model.Job
	songs   map[string][]*model.Song
	users   map[string]*model.User
	bumps   int
	byURL   map[string][]string
	ordered []string
}

func newMemStore() *memStore {
	return &memStore{
		jobs:  make(map[string]*model.Job),
		songs: make(map[string][]*model.Song),
		users: make(map[string]*model.User),
		byURL: make(map[string][]string),
	}
}

func (m *memStore) CreateJob(ctx context.Context, job *model.Job) error {
	cp := *job
	m.jobs[job.ID] = &cp
	m.byURL[job.NormalizedSourceURL] = append(m.byURL[job.NormalizedSourceURL], job.ID)
	m.ordered = append([]string{job.ID}, m.ordered...)
	return nil
}

func (m *memStore) SaveJob(ctx context.Context, job *model.Job) error {
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memStore) FindCompletedJobByURL(ctx context.Context, normalizedURL string) (*model.Job, error) {
	for _, id := range m.byURL[normalizedURL] {
		if job := m.jobs[id]; job != nil && job.Status == model.JobStatusCompleted {
			cp := *job
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListJobsByUser(ctx context.Context, userID string, limit int) ([]*model.Job, error) {
	var out []*model.Job
	for _, id := range m.ordered {
		job := m.jobs[id]
		if job.UserID != userID {
			continue
		}
		cp := *job
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) CreateSong(ctx context.Context, song *model.Song) error {
	cp := *song
	m.songs[song.JobID] = append(m.songs[song.JobID], &cp)
	return nil
}

func (m *memStore) ListSongsByJob(ctx context.Context, jobID string) ([]*model.Song, error) {
	return m.songs[jobID], nil
}

func (m *memStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, ok := m.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (m *memStore) SaveUser(ctx context.Context, user *model.User) error {
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) BumpTrending(ctx context.Context, song *model.Song, sourceURL string) error {
	m.bumps++
	return nil
}

func (m *memStore) TopTrending(ctx context.Context, limit int) ([]*model.TrendingEntry, error) {
	return nil, nil
}

type fakeScheduler struct {
	calls []scheduledCall
}

type scheduledCall struct {
	jobID    string
	priority model.Priority
	delay    time.Duration
}

func (f *fakeScheduler) ScheduleProcess(ctx context.Context, jobID string, priority model.Priority, delay time.Duration) error {
	f.calls = append(f.calls, scheduledCall{jobID: jobID, priority: priority, delay: delay})
	return nil
}

type fakeDownloader struct {
	result *client.DownloadResult
	err    error
	calls  int
}

func (f *fakeDownloader) Download(ctx context.Context, url string, platform model.Platform) (*client.DownloadResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSeparator struct {
	result *client.SeparationResult
	err    error
	calls  int
}

func (f *fakeSeparator) Separate(ctx context.Context, audioURL string) (*client.SeparationResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeRecognizer returns results per call in order, repeating the last.
type fakeRecognizer struct {
	results [][]client.RecognizedSong
	err     error
	calls   int
}

func (f *fakeRecognizer) Identify(ctx context.Context, audioURL string) ([]client.RecognizedSong, error) {
	idx := f.calls
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	if idx < 0 {
		return nil, nil
	}
	return f.results[idx], nil
}

func (f *fakeRecognizer) IsConfigured() bool { return true }

type fakeStorage struct {
	uploads []string
	deletes []string
}

func (f *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	f.uploads = append(f.uploads, key)
	return f.GetPublicURL(key), nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	f.deletes = append(f.deletes, key)
	return nil
}

func (f *fakeStorage) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}

type fakeNotifier struct {
	sent []sentPush
}

type sentPush struct {
	token string
	title string
	body  string
	data  map[string]string
}

func (f *fakeNotifier) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	f.sent = append(f.sent, sentPush{token: token, title: title, body: body, data: data})
	return nil
}

type pipelineFixture struct {
	store      *memStore
	scheduler  *fakeScheduler
	downloader *fakeDownloader
	separator  *fakeSeparator
	recognizer *fakeRecognizer
	notifier   *fakeNotifier
	worker     *PipelineWorker
}

func newPipelineFixture() *pipelineFixture {
	ms := newMemStore()
	sched := &fakeScheduler{}
	dl := &fakeDownloader{result: &client.DownloadResult{AudioURL: "https://cdn.example.com/audio.mp3", Source: "yt-dlp"}}
	sep := &fakeSeparator{result: &client.SeparationResult{AccompanimentURL: "https://cdn.example.com/no-vocals.mp3"}}
	rec := &fakeRecognizer{}
	notif := &fakeNotifier{}

	jobs := service.NewJobService(ms)
	trending := service.NewTrendingService(ms)

	w := NewPipelineWorker(jobs, ms, ms, trending, sched, dl, sep, rec, nil, notif)
	return &pipelineFixture{
		store:      ms,
		scheduler:  sched,
		downloader: dl,
		separator:  sep,
		recognizer: rec,
		notifier:   notif,
		worker:     w,
	}
}

// enableStorage rebuilds the worker with a fake storage client and points
// the downloader at a local audio server, so persistAudio runs for real.
func (f *pipelineFixture) enableStorage(t *testing.T) *fakeStorage {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3-bytes"))
	}))
	t.Cleanup(srv.Close)
	f.downloader.result.AudioURL = srv.URL + "/audio.mp3"

	st := &fakeStorage{}
	jobs := service.NewJobService(f.store)
	trending := service.NewTrendingService(f.store)
	f.worker = NewPipelineWorker(jobs, f.store, f.store, trending, f.scheduler,
		f.downloader, f.separator, f.recognizer, st, f.notifier)
	return st
}

func (f *pipelineFixture) seedJob(t *testing.T, status model.JobStatus) *model.Job {
	t.Helper()
	job := &model.Job{
		ID:                  "job-1",
		UserID:              "user-1",
		SourceURL:           "https://instagram.com/reel/abc123/",
		NormalizedSourceURL: "https://instagram.com/reel/abc123/",
		Platform:            model.PlatformInstagram,
		Status:              status,
		Priority:            model.PriorityNormal,
		CreatedAt:           time.Now(),
	}
	if err := f.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	f.store.users["user-1"] = &model.User{ID: "user-1", PushToken: "ExponentPushToken[test]"}
	return job
}

func processTask(t *testing.T, w *PipelineWorker, jobID string) {
	t.Helper()
	payload, err := json.Marshal(service.ProcessJobPayload{JobID: jobID})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	task := asynq.NewTask(service.TaskTypeProcessJob, payload)
	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
}

func TestPipelineOriginalRecognitionSucceeds(t *testing.T) {
	f := newPipelineFixture()
	job := f.seedJob(t, model.JobStatusQueued)
	f.recognizer.results = [][]client.RecognizedSong{{
		{Title: "Flowers", Artist: "Miley Cyrus", ISRC: "USSM12209515", Confidence: 92, RecognitionService: "acrcloud"},
	}}

	processTask(t, f.worker, job.ID)

	got := f.store.jobs[job.ID]
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error: %v)", got.Status, got.Error)
	}
	if !got.RecognitionAttempts.Original {
		t.Error("original attempt flag not set")
	}
	if got.RecognitionAttempts.Stripped {
		t.Error("stripped attempt flag set without a fallback run")
	}
	if f.separator.calls != 0 {
		t.Errorf("separator called %d times on a direct hit", f.separator.calls)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("timestamps not set on completion")
	}

	songs := f.store.songs[job.ID]
	if len(songs) != 1 || songs[0].Title != "Flowers" {
		t.Fatalf("expected one persisted song, got %v", songs)
	}
	if f.store.bumps != 1 {
		t.Errorf("expected 1 trending bump, got %d", f.store.bumps)
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("expected 1 push, got %d", len(f.notifier.sent))
	}
	push := f.notifier.sent[0]
	if push.body != "Flowers by Miley Cyrus" {
		t.Errorf("unexpected push body %q", push.body)
	}
	if push.data["url"] != "clipbeat://job/"+job.ID {
		t.Errorf("unexpected deep link %q", push.data["url"])
	}
}

func TestPipelineVocalStripFallback(t *testing.T) {
	f := newPipelineFixture()
	job := f.seedJob(t, model.JobStatusQueued)
	f.recognizer.results = [][]client.RecognizedSong{
		nil, // original pass: no match
		{{Title: "Instrumental Hit", Artist: "Producer", Confidence: 75, RecognitionService: "acrcloud"}},
	}

	processTask(t, f.worker, job.ID)

	got := f.store.jobs[job.ID]
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if f.separator.calls != 1 {
		t.Errorf("expected one separation call, got %d", f.separator.calls)
	}
	if f.recognizer.calls != 2 {
		t.Errorf("expected two recognition passes, got %d", f.recognizer.calls)
	}
	if !got.RecognitionAttempts.Original || !got.RecognitionAttempts.Stripped {
		t.Errorf("attempt flags incomplete: %+v", got.RecognitionAttempts)
	}
	if len(f.store.songs[job.ID]) != 1 {
		t.Fatalf("expected one song, got %d", len(f.store.songs[job.ID]))
	}
}

func TestPipelineNoMatchIsTerminalWithoutRetry(t *testing.T) {
	f := newPipelineFixture()
	job := f.seedJob(t, model.JobStatusQueued)
	f.recognizer.results = [][]client.RecognizedSong{nil, nil}

	processTask(t, f.worker, job.ID)

	got := f.store.jobs[job.ID]
	if got.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || *got.Error != "Could not identify music" {
		t.Errorf("unexpected error message: %v", got.Error)
	}
	if got.RetryCount != 0 {
		t.Errorf("no-match must not consume retries, got %d", got.RetryCount)
	}
	if len(f.scheduler.calls) != 0 {
		t.Errorf("no-match must not reschedule, got %v", f.scheduler.calls)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].title != "Couldn't identify this one 😕" {
		t.Errorf("expected failure push, got %v", f.notifier.sent)
	}
}

func TestPipelineTransientFailureRequeuesWithBackoff(t *testing.T) {
	f := newPipelineFixture()
	job := f.seedJob(t, model.JobStatusQueued)
	f.downloader.err = errors.New("yt-dlp error (status 500): upstream hiccup")

	processTask(t, f.worker, job.ID)

	got := f.store.jobs[job.ID]
	if got.Status != model.JobStatusQueued {
		t.Fatalf("expected requeued job, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", got.RetryCount)
	}
	if got.Error == nil {
		t.Error("failure message not recorded")
	}
	if len(f.scheduler.calls) != 1 {
		t.Fatalf("expected one reschedule, got %d", len(f.scheduler.calls))
	}
	if f.scheduler.calls[0].delay != time.Second {
		t.Errorf("expected 1s backoff on first retry, got %s", f.scheduler.calls[0].delay)
	}
}

func TestPipelineBackoffDoubles(t *testing.T) {
	f := newPipelineFixture()
	job := f.seedJob(t, model.JobStatusQueued)
	f.downloader.err = errors.New("download failed")

	for i := 0; i < service.MaxRetries; i++ {
		processTask(t, f.worker, job.ID)
	}

	if len(f.scheduler.calls) != service.MaxRetries {
		t.Fatalf("expected %d reschedules, got %d", service.MaxRetries, len(f.scheduler.calls))
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, call := range f.scheduler.calls {
		if call.delay != want[i] {
			t.Errorf("retry %d: expected backoff %s, got %s", i+1, want[i], call.delay)
		}
	}

	// Budget exhausted: the next failure is terminal.
	processTask(t, f.worker, job.ID)
	got := f.store.jobs[job.ID]
	if got.Status != model.JobStatusFailed {
		t.Fatalf("expected failed after exhausting retries, got %s", got.Status)
	}
	if len(f.scheduler.calls) != service.MaxRetries {
		t.Errorf("terminal failure must not reschedule, got %d calls", len(f.scheduler.calls))
	}
}

func TestPipelineNoProviderFailsImmediately(t *testing.T) {
	f := newPipelineFixture()
	job := f.seedJob(t, model.JobStatusQueued)
	f.downloader.err = client.ErrNoProviderConfigured

	processTask(t, f.worker, job.ID)

	got := f.store.jobs[job.ID]
	if got.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("configuration failure must not consume retries, got %d", got.RetryCount)
	}
	if len(f.scheduler.calls) != 0 {
		t.Errorf("configuration failure must not reschedule, got %v", f.scheduler.calls)
	}
}

func TestPipelineDropsTerminalJob(t *testing.T) {
	f := newPipelineFixture()
	job := f.seedJob(t, model.JobStatusCompleted)

	processTask(t, f.worker, job.ID)

	if f.downloader.calls != 0 {
		t.Error("terminal job must not be reprocessed")
	}
	if f.store.jobs[job.ID].Status != model.JobStatusCompleted {
		t.Errorf("terminal status mutated to %s", f.store.jobs[job.ID].Status)
	}
}

func TestPipelineDropsUnknownJob(t *testing.T) {
	f := newPipelineFixture()

	processTask(t, f.worker, "missing-job")

	if f.downloader.calls != 0 {
		t.Error("unknown job must not start the pipeline")
	}
}

func TestPipelineSeparationFailureIsRetryable(t *testing.T) {
	f := newPipelineFixture()
	job := f.seedJob(t, model.JobStatusQueued)
	f.recognizer.results = [][]client.RecognizedSong{nil}
	f.separator.err = errors.New("replicate prediction failed")

	processTask(t, f.worker, job.ID)

	got := f.store.jobs[job.ID]
	if got.Status != model.JobStatusQueued {
		t.Fatalf("expected requeue after separation failure, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", got.RetryCount)
	}
}

func TestPipelineRetryRunSucceeds(t *testing.T) {
	f := newPipelineFixture()
	job := f.seedJob(t, model.JobStatusQueued)
	f.recognizer.results = [][]client.RecognizedSong{{
		{Title: "Second Try", Artist: "Artist", Confidence: 88, RecognitionService: "acrcloud"},
	}}

	// First run: transient download failure requeues the job.
	f.downloader.err = errors.New("yt-dlp error (status 503): upstream down")
	processTask(t, f.worker, job.ID)

	if got := f.store.jobs[job.ID]; got.Status != model.JobStatusQueued || got.RetryCount != 1 {
		t.Fatalf("expected requeued job with retry 1, got %s retry %d", got.Status, got.RetryCount)
	}

	// The provider recovers; the rescheduled run completes the job.
	f.downloader.err = nil
	processTask(t, f.worker, job.ID)

	got := f.store.jobs[job.ID]
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed after retry, got %s (error: %v)", got.Status, got.Error)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count should stay at 1, got %d", got.RetryCount)
	}
	if len(f.store.songs[job.ID]) != 1 {
		t.Errorf("expected one song after retry run, got %d", len(f.store.songs[job.ID]))
	}
	if len(f.scheduler.calls) != 1 {
		t.Errorf("expected exactly one reschedule, got %d", len(f.scheduler.calls))
	}
}

func TestPipelineStoresAudioAndKeepsItOnCompletion(t *testing.T) {
	f := newPipelineFixture()
	job := f.seedJob(t, model.JobStatusQueued)
	storage := f.enableStorage(t)
	f.recognizer.results = [][]client.RecognizedSong{{
		{Title: "Kept", Artist: "Artist", Confidence: 90, RecognitionService: "acrcloud"},
	}}

	processTask(t, f.worker, job.ID)

	got := f.store.jobs[job.ID]
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error: %v)", got.Status, got.Error)
	}
	wantKey := "audio/" + job.ID + ".mp3"
	if got.AudioFileKey != wantKey {
		t.Errorf("audio key = %q, want %q", got.AudioFileKey, wantKey)
	}
	if len(storage.uploads) != 1 || storage.uploads[0] != wantKey {
		t.Errorf("uploads = %v", storage.uploads)
	}
	if len(storage.deletes) != 0 {
		t.Errorf("completed job must keep its audio, got deletes %v", storage.deletes)
	}
}

func TestPipelineFailedJobReleasesStoredAudio(t *testing.T) {
	f := newPipelineFixture()
	job := f.seedJob(t, model.JobStatusQueued)
	storage := f.enableStorage(t)
	f.recognizer.results = [][]client.RecognizedSong{nil, nil}

	processTask(t, f.worker, job.ID)

	got := f.store.jobs[job.ID]
	if got.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	wantKey := "audio/" + job.ID + ".mp3"
	if len(storage.deletes) != 1 || storage.deletes[0] != wantKey {
		t.Errorf("failed job must release its audio, got deletes %v", storage.deletes)
	}
}

func TestPipelineSongsWithoutISRCSkipTrending(t *testing.T) {
	f := newPipelineFixture()
	job := f.seedJob(t, model.JobStatusQueued)
	f.recognizer.results = [][]client.RecognizedSong{{
		{Title: "Unknown Track", Artist: "Someone", Confidence: 65, RecognitionService: "acrcloud"},
	}}

	processTask(t, f.worker, job.ID)

	if f.store.jobs[job.ID].Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", f.store.jobs[job.ID].Status)
	}
	if f.store.bumps != 0 {
		t.Errorf("songs without ISRC must not enter trending, got %d bumps", f.store.bumps)
	}
}
