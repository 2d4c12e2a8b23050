package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/clipbeat/api/internal/config"
)

// AudioSeparator defines the interface for vocal/accompaniment separation
type AudioSeparator interface {
	Separate(ctx context.Context, audioURL string) (*SeparationResult, error)
}

// SeparationResult carries the vocals-removed track
type SeparationResult struct {
	AccompanimentURL string        `json:"accompanimentUrl"`
	ProcessingTime   time.Duration `json:"-"`
}

// ReplicateClient implements AudioSeparator using a Demucs model on
// Replicate. Predictions are asynchronous; Separate polls to completion.
type ReplicateClient struct {
	httpClient   *http.Client
	token        string
	modelVersion string
	pollInterval time.Duration
	pollAttempts int
}

func NewReplicateClient(cfg *config.ReplicateConfig) *ReplicateClient {
	return &ReplicateClient{
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		token:        cfg.Token,
		modelVersion: cfg.DemucsModel,
		pollInterval: time.Duration(cfg.PollInterval) * time.Second,
		pollAttempts: cfg.PollAttempts,
	}
}

// Separate strips vocals from the audio at audioURL and returns the
// accompaniment track URL. "No accompaniment produced" is an error.
func (c *ReplicateClient) Separate(ctx context.Context, audioURL string) (*SeparationResult, error) {
	if c.token == "" {
		return nil, fmt.Errorf("REPLICATE_API_TOKEN not set")
	}

	start := time.Now()
	body, err := json.Marshal(map[string]any{
		"version": c.modelVersion,
		"input": map[string]string{
			"audio": audioURL,
			"stems": "vocals",
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.replicate.com/v1/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)

	log.Printf("[Replicate] → start demucs prediction")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("replicate: failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("replicate demucs failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	var pred struct {
		ID   string `json:"id"`
		URLs struct {
			Get string `json:"get"`
		} `json:"urls"`
	}
	if err := json.Unmarshal(respBody, &pred); err != nil {
		return nil, fmt.Errorf("replicate: failed to unmarshal prediction: %w", err)
	}

	output, err := c.pollPrediction(ctx, pred.ID, pred.URLs.Get)
	if err != nil {
		return nil, err
	}

	accompanimentURL := accompanimentFromOutput(output)
	if accompanimentURL == "" {
		return nil, fmt.Errorf("demucs returned no accompaniment")
	}

	return &SeparationResult{
		AccompanimentURL: accompanimentURL,
		ProcessingTime:   time.Since(start),
	}, nil
}

// pollPrediction polls the prediction until it succeeds, fails, or the
// attempt ceiling is hit. A timeout here is a retryable pipeline error.
func (c *ReplicateClient) pollPrediction(ctx context.Context, predID, getURL string) (any, error) {
	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Token "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("replicate poll failed: %w", err)
		}

		var result struct {
			Status string `json:"status"`
			Output any    `json:"output"`
			Error  string `json:"error"`
		}
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("replicate: failed to decode poll response: %w", err)
		}

		log.Printf("[Replicate] Poll #%d (prediction=%s) — status: %s", attempt, predID, result.Status)

		switch result.Status {
		case "succeeded":
			return result.Output, nil
		case "failed", "canceled":
			if result.Error != "" {
				return nil, fmt.Errorf("demucs failed: %s", result.Error)
			}
			return nil, fmt.Errorf("demucs %s", result.Status)
		}
	}

	return nil, fmt.Errorf("demucs timed out after %d attempts", c.pollAttempts)
}

// accompanimentFromOutput handles the output shapes Demucs variants
// return: a bare URL string, or an object keyed by stem name.
func accompanimentFromOutput(output any) string {
	switch v := output.(type) {
	case string:
		return v
	case map[string]any:
		for _, key := range []string{"accompaniment", "no_vocals", "instrumental", "other"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// IsConfigured returns true if the client has valid configuration
func (c *ReplicateClient) IsConfigured() bool {
	return c.token != ""
}
