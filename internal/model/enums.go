package model

// Platform identifies the social network a clip was shared from
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformUnknown   Platform = "unknown"
)

// Job status
type JobStatus string

const (
	JobStatusQueued              JobStatus = "queued"
	JobStatusDownloading         JobStatus = "downloading"
	JobStatusRecognizingOriginal JobStatus = "recognizing_original"
	JobStatusRemovingVocals      JobStatus = "removing_vocals"
	JobStatusRecognizingStripped JobStatus = "recognizing_stripped"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusFailed              JobStatus = "failed"
)

// Terminal reports whether no further transitions may leave this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Priority is a scheduling hint interpreted by the task queue
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Subscription tiers
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// RecognitionAttempt identifies one recognition strategy
type RecognitionAttempt string

const (
	AttemptOriginal RecognitionAttempt = "original"
	AttemptStripped RecognitionAttempt = "stripped"
	AttemptSegments RecognitionAttempt = "segments"
	AttemptACRCloud RecognitionAttempt = "acrcloud"
)

// Recognition service provenance tags
const (
	RecognitionServiceACRCloud = "acrcloud"
	RecognitionServiceShazam   = "shazamkit"
)
