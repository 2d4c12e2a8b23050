package client

import "errors"

var (
	// ErrRateLimited signals the provider refused the request for rate
	// reasons; the caller may fail over to another provider.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrNoProviderConfigured means no acquisition backend is configured
	// at all. Retrying reproduces the same failure, so the pipeline fails
	// the job immediately instead of consuming retry budget.
	ErrNoProviderConfigured = errors.New("no download provider configured")
)
