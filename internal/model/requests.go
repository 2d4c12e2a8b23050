package model

import "time"

// SubmitJobRequest is the body of POST /api/jobs
type SubmitJobRequest struct {
	SourceURL string `json:"sourceUrl" validate:"required,url"`
}

// SubmitJobResponse is returned for both cache hits and fresh submissions
type SubmitJobResponse struct {
	JobID  string `json:"jobId"`
	Cached bool   `json:"cached"`
}

// JobResponse is a job together with its recognized songs
type JobResponse struct {
	Job   *Job    `json:"job"`
	Songs []*Song `json:"songs"`
}

// StatsResponse mirrors the quota state the app shows on the paywall
type StatsResponse struct {
	Tier             Tier       `json:"tier"`
	EffectivelyPro   bool       `json:"effectivelyPro"`
	IsFirstDay       bool       `json:"isFirstDay"`
	HasReferralBonus bool       `json:"hasReferralBonus"`
	ProExpiresAt     *time.Time `json:"proExpiresAt,omitempty"`
	DailyUsed        int        `json:"dailyUsed"`
	DailyLimit       int        `json:"dailyLimit"` // -1 means unlimited
	RemainingToday   int        `json:"remainingToday"`
	ReferralCode     string     `json:"referralCode"`
}

// UpdatePushTokenRequest is the body of PUT /api/me/push-token
type UpdatePushTokenRequest struct {
	PushToken string `json:"pushToken" validate:"required"`
}
