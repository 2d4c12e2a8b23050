package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/clipbeat/api/internal/model"
	"github.com/clipbeat/api/internal/store"
	"github.com/clipbeat/api/internal/urlnorm"
)

// ErrDailyLimitReached is the user-facing quota error. Non-retryable.
var ErrDailyLimitReached = errors.New("daily limit reached")

const dayWindow = 24 * time.Hour

// UserStore is the user slice of the store
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	SaveUser(ctx context.Context, user *model.User) error
}

// SubmissionService validates submissions, enforces quota, serves cache
// hits and enqueues fresh jobs.
type SubmissionService struct {
	store          JobStore
	users          UserStore
	scheduler      TaskScheduler
	freeDailyLimit int
}

func NewSubmissionService(jobStore JobStore, userStore UserStore, scheduler TaskScheduler, freeDailyLimit int) *SubmissionService {
	return &SubmissionService{
		store:          jobStore,
		users:          userStore,
		scheduler:      scheduler,
		freeDailyLimit: freeDailyLimit,
	}
}

// Submit runs the submission flow: cache lookup first, then quota, then a
// queued job scheduled at the caller's effective priority. A cache hit
// synthesizes a completed job with copied songs and never charges quota.
func (s *SubmissionService) Submit(ctx context.Context, userID, email, sourceURL string) (*model.SubmitJobResponse, error) {
	now := time.Now()

	user, err := s.getOrCreateUser(ctx, userID, email, now)
	if err != nil {
		return nil, err
	}

	normalized := urlnorm.Normalize(sourceURL)

	if resp, err := s.serveFromCache(ctx, user, sourceURL, normalized, now); err != nil {
		return nil, err
	} else if resp != nil {
		return resp, nil
	}

	// Roll the daily window before judging quota. The first reset after
	// signup also ends the free first day.
	if now.Sub(user.DailyIdentifiesResetAt) > dayWindow {
		user.DailyIdentifiesUsed = 0
		user.DailyIdentifiesResetAt = now
		user.FirstDayFreeUsed = true
		if err := s.users.SaveUser(ctx, user); err != nil {
			return nil, err
		}
	}

	effectivelyPro := user.EffectivelyPro(now)
	isFirstDay := user.IsFirstDay(now)

	if !effectivelyPro && !isFirstDay && user.DailyIdentifiesUsed >= s.freeDailyLimit {
		return nil, ErrDailyLimitReached
	}

	priority := model.PriorityNormal
	if effectivelyPro {
		priority = model.PriorityHigh
	}

	job := &model.Job{
		ID:                  uuid.New().String(),
		UserID:              user.ID,
		SourceURL:           sourceURL,
		NormalizedSourceURL: normalized,
		Platform:            urlnorm.DetectPlatform(sourceURL),
		Status:              model.JobStatusQueued,
		Priority:            priority,
		CreatedAt:           now,
		RetryCount:          0,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if !effectivelyPro && !isFirstDay {
		user.DailyIdentifiesUsed++
		if err := s.users.SaveUser(ctx, user); err != nil {
			return nil, err
		}
	}

	if err := s.scheduler.ScheduleProcess(ctx, job.ID, priority, 0); err != nil {
		return nil, err
	}

	return &model.SubmitJobResponse{JobID: job.ID, Cached: false}, nil
}

// serveFromCache returns a synthesized completed job when another
// completed job with the same normalized URL already has songs. Returns
// (nil, nil) on cache miss.
func (s *SubmissionService) serveFromCache(ctx context.Context, user *model.User, sourceURL, normalized string, now time.Time) (*model.SubmitJobResponse, error) {
	existing, err := s.store.FindCompletedJobByURL(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	cachedSongs, err := s.store.ListSongsByJob(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	if len(cachedSongs) == 0 {
		return nil, nil
	}

	completedAt := now
	job := &model.Job{
		ID:                  uuid.New().String(),
		UserID:              user.ID,
		SourceURL:           sourceURL,
		NormalizedSourceURL: normalized,
		Platform:            urlnorm.DetectPlatform(sourceURL),
		Status:              model.JobStatusCompleted,
		Priority:            model.PriorityNormal,
		CachedFromJobID:     existing.ID,
		CreatedAt:           now,
		CompletedAt:         &completedAt,
		ProcessingTimeMs:    0,
		RetryCount:          0,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	// Copy songs onto the new job so the user's history stands alone.
	for _, src := range cachedSongs {
		song := *src
		song.ID = uuid.New().String()
		song.JobID = job.ID
		song.UserID = user.ID
		song.CreatedAt = now
		if err := s.store.CreateSong(ctx, &song); err != nil {
			return nil, err
		}
	}

	return &model.SubmitJobResponse{JobID: job.ID, Cached: true}, nil
}

// Stats reports the quota state the app shows in settings and paywall.
func (s *SubmissionService) Stats(ctx context.Context, userID string) (*model.StatsResponse, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	now := time.Now()
	dailyUsed := user.DailyIdentifiesUsed
	if now.Sub(user.DailyIdentifiesResetAt) > dayWindow {
		dailyUsed = 0
	}

	effectivelyPro := user.EffectivelyPro(now)
	isFirstDay := user.IsFirstDay(now)
	hasReferralBonus := user.ProExpiresAt != nil && user.ProExpiresAt.After(now)

	dailyLimit := s.freeDailyLimit
	remaining := dailyLimit - dailyUsed
	if remaining < 0 {
		remaining = 0
	}
	if effectivelyPro || isFirstDay {
		dailyLimit = -1
		remaining = -1
	}

	return &model.StatsResponse{
		Tier:             user.Tier,
		EffectivelyPro:   effectivelyPro,
		IsFirstDay:       isFirstDay,
		HasReferralBonus: hasReferralBonus,
		ProExpiresAt:     user.ProExpiresAt,
		DailyUsed:        dailyUsed,
		DailyLimit:       dailyLimit,
		RemainingToday:   remaining,
		ReferralCode:     user.ReferralCode,
	}, nil
}

// ErrUserNotFound is returned for stats/push-token calls on unknown users
var ErrUserNotFound = errors.New("user not found")

// UpdatePushToken stores the device push token on the user record.
func (s *SubmissionService) UpdatePushToken(ctx context.Context, userID, pushToken string) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	user.PushToken = pushToken
	return s.users.SaveUser(ctx, user)
}

func (s *SubmissionService) getOrCreateUser(ctx context.Context, userID, email string, now time.Time) (*model.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	user = &model.User{
		ID:                     userID,
		Email:                  email,
		Tier:                   model.TierFree,
		DailyIdentifiesUsed:    0,
		DailyIdentifiesResetAt: now,
		FirstDayFreeUsed:       false,
		SignupDate:             now,
		ReferralCode:           generateReferralCode(),
		CreatedAt:              now,
	}
	if err := s.users.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Ambiguous characters (0/O, 1/I) are left out of referral codes.
const referralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateReferralCode() string {
	code := make([]byte, 6)
	for i := range code {
		code[i] = referralAlphabet[rand.Intn(len(referralAlphabet))]
	}
	return string(code)
}
