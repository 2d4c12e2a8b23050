package model

import "time"

// RecognitionAttempts records which recognition strategies have been tried
// for a job. Flags are only ever set, never cleared.
type RecognitionAttempts struct {
	Original bool `json:"original"`
	Stripped bool `json:"stripped"`
	Segments bool `json:"segments"`
	ACRCloud bool `json:"acrcloud"`
}

// Job is one attempt to identify the song in a single submitted source URL
type Job struct {
	ID                  string              `json:"id"`
	UserID              string              `json:"userId"`
	SourceURL           string              `json:"sourceUrl"`
	NormalizedSourceURL string              `json:"normalizedSourceUrl"`
	Platform            Platform            `json:"platform"`
	Status              JobStatus           `json:"status"`
	Priority            Priority            `json:"priority"`
	RecognitionAttempts RecognitionAttempts `json:"recognitionAttempts"`
	AudioFileKey        string              `json:"audioFileKey,omitempty"` // object storage key of extracted audio
	CachedFromJobID     string              `json:"cachedFromJobId,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
	StartedAt           *time.Time          `json:"startedAt,omitempty"`
	CompletedAt         *time.Time          `json:"completedAt,omitempty"`
	ProcessingTimeMs    int64               `json:"processingTimeMs,omitempty"`
	Error               *string             `json:"error,omitempty"`
	RetryCount          int                 `json:"retryCount"`
}

// Song is one recognized track attached to a completed job
type Song struct {
	ID                 string    `json:"id"`
	JobID              string    `json:"jobId"`
	UserID             string    `json:"userId"`
	Title              string    `json:"title"`
	Artist             string    `json:"artist"`
	Album              string    `json:"album,omitempty"`
	ReleaseDate        string    `json:"releaseDate,omitempty"`
	DurationMs         int64     `json:"durationMs,omitempty"`
	ISRC               string    `json:"isrc,omitempty"`
	SpotifyURL         string    `json:"spotifyUrl,omitempty"`
	AppleMusicURL      string    `json:"appleMusicUrl,omitempty"`
	YouTubeURL         string    `json:"youtubeUrl,omitempty"`
	ArtworkURL         string    `json:"artworkUrl,omitempty"`
	Confidence         int       `json:"confidence"`
	MatchedAtSeconds   float64   `json:"matchedAtSeconds"`
	RecognitionService string    `json:"recognitionService"`
	CreatedAt          time.Time `json:"createdAt"`
}

// User carries quota and subscription state consulted at submission time
type User struct {
	ID                     string     `json:"id"`
	Email                  string     `json:"email,omitempty"`
	Tier                   Tier       `json:"tier"`
	DailyIdentifiesUsed    int        `json:"dailyIdentifiesUsed"`
	DailyIdentifiesResetAt time.Time  `json:"dailyIdentifiesResetAt"`
	FirstDayFreeUsed       bool       `json:"firstDayFreeUsed"`
	SignupDate             time.Time  `json:"signupDate"`
	ProExpiresAt           *time.Time `json:"proExpiresAt,omitempty"`
	PushToken              string     `json:"pushToken,omitempty"`
	ReferralCode           string     `json:"referralCode"`
	CreatedAt              time.Time  `json:"createdAt"`
}

// EffectivelyPro reports whether the user currently gets pro treatment,
// either from a paid tier or an unexpired referral bonus.
func (u *User) EffectivelyPro(now time.Time) bool {
	if u.Tier == TierPro {
		return true
	}
	return u.ProExpiresAt != nil && u.ProExpiresAt.After(now)
}

// IsFirstDay reports whether the user is inside the free first day window.
func (u *User) IsFirstDay(now time.Time) bool {
	return now.Sub(u.SignupDate) < 24*time.Hour && !u.FirstDayFreeUsed
}

// TrendingEntry is the per-ISRC rolling recognition aggregate
type TrendingEntry struct {
	ISRC                 string    `json:"isrc"`
	Title                string    `json:"title"`
	Artist               string    `json:"artist"`
	ArtworkURL           string    `json:"artworkUrl,omitempty"`
	SpotifyURL           string    `json:"spotifyUrl,omitempty"`
	AppleMusicURL        string    `json:"appleMusicUrl,omitempty"`
	TotalRecognitions    int64     `json:"totalRecognitions"`
	RecognitionsThisWeek int64     `json:"recognitionsThisWeek"`
	RecognitionsLastWeek int64     `json:"recognitionsLastWeek"`
	UniqueReels          int64     `json:"uniqueReels"`
	SampleReelURLs       []string  `json:"sampleReelUrls"`
	LastRecognizedAt     time.Time `json:"lastRecognizedAt"`
}
