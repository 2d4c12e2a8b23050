package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/clipbeat/api/internal/config"
	"github.com/clipbeat/api/internal/model"
)

// VideoDownloader defines the interface for clip acquisition
type VideoDownloader interface {
	Download(ctx context.Context, url string, platform model.Platform) (*DownloadResult, error)
}

// DownloadResult is the acquired clip audio (and optionally video)
type DownloadResult struct {
	AudioURL string  `json:"audioUrl"`
	VideoURL string  `json:"videoUrl,omitempty"`
	Title    string  `json:"title,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Source   string  `json:"source"` // "yt-dlp" or "apify"
}

// DownloaderClient implements VideoDownloader with a yt-dlp microservice
// as the primary provider and Apify actors as the rate-limit fallback.
type DownloaderClient struct {
	httpClient *http.Client
	serviceURL string
	serviceKey string
	apifyToken string
	apifyBase  string
	convertKey string
}

func NewDownloaderClient(cfg *config.DownloaderConfig, apify *config.ApifyConfig, convert *config.ConvertAPIConfig) *DownloaderClient {
	return &DownloaderClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		serviceURL: cfg.ServiceURL,
		serviceKey: cfg.APIKey,
		apifyToken: apify.Token,
		apifyBase:  apify.BaseURL,
		convertKey: convert.Secret,
	}
}

var rateLimitPattern = regexp.MustCompile(`(?i)rate.?limit|429|too many requests|blocked|ip.?blocked`)

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	return rateLimitPattern.MatchString(err.Error())
}

// Download fetches the clip and returns a URL to its extracted audio.
// Provider order: yt-dlp service, then Apify when yt-dlp is rate limited.
// Returns ErrNoProviderConfigured when neither backend is configured.
func (c *DownloaderClient) Download(ctx context.Context, url string, platform model.Platform) (*DownloadResult, error) {
	if c.serviceURL != "" && c.serviceKey != "" {
		result, err := c.downloadWithService(ctx, url)
		if err == nil {
			return result, nil
		}
		if isRateLimitError(err) && c.apifyToken != "" {
			log.Printf("[Downloader] yt-dlp rate limited, falling back to Apify: %v", err)
			return c.downloadWithApify(ctx, url, platform)
		}
		return nil, err
	}

	if c.apifyToken != "" {
		return c.downloadWithApify(ctx, url, platform)
	}

	return nil, ErrNoProviderConfigured
}

func (c *DownloaderClient) downloadWithService(ctx context.Context, url string) (*DownloadResult, error) {
	body, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+"/download", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	log.Printf("[Downloader] → POST %s/download", c.serviceURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp: failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("yt-dlp: %w", ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("yt-dlp error (status %d): %s", resp.StatusCode, string(respBody))
		if isRateLimitError(err) {
			return nil, fmt.Errorf("%v: %w", err, ErrRateLimited)
		}
		return nil, err
	}

	var data struct {
		AudioURL  string  `json:"audioUrl"`
		AudioPath string  `json:"audioPath"`
		VideoURL  string  `json:"videoUrl"`
		Title     string  `json:"title"`
		Duration  float64 `json:"duration"`
	}
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, fmt.Errorf("yt-dlp: failed to unmarshal response: %w", err)
	}

	audioURL := data.AudioURL
	if audioURL == "" {
		audioURL = data.AudioPath
	}
	if audioURL == "" {
		return nil, fmt.Errorf("yt-dlp returned no audio")
	}

	return &DownloadResult{
		AudioURL: audioURL,
		VideoURL: data.VideoURL,
		Title:    data.Title,
		Duration: data.Duration,
		Source:   "yt-dlp",
	}, nil
}

func (c *DownloaderClient) downloadWithApify(ctx context.Context, url string, platform model.Platform) (*DownloadResult, error) {
	actorID := apifyActor(platform)
	input, err := json.Marshal(apifyInput(url, platform))
	if err != nil {
		return nil, err
	}

	runURL := fmt.Sprintf("%s/acts/%s/runs?token=%s", c.apifyBase, actorID, c.apifyToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, runURL, bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	log.Printf("[Apify] → run actor %s", actorID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apify run failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("apify run failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	var run struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &run); err != nil {
		return nil, fmt.Errorf("apify: failed to unmarshal run: %w", err)
	}

	if err := c.pollApifyRun(ctx, run.Data.ID); err != nil {
		return nil, err
	}

	return c.collectApifyItems(ctx, run.Data.ID)
}

// pollApifyRun waits for the actor run to finish, polling every 2s with a
// fixed attempt ceiling. Timeouts surface as ordinary (retryable) errors.
func (c *DownloaderClient) pollApifyRun(ctx context.Context, runID string) error {
	const interval = 2 * time.Second
	const maxAttempts = 60

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		statusURL := fmt.Sprintf("%s/actor-runs/%s?token=%s", c.apifyBase, runID, c.apifyToken)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("apify status failed: %w", err)
		}

		var status struct {
			Data struct {
				Status string `json:"status"`
			} `json:"data"`
		}
		err = json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("apify: failed to decode status: %w", err)
		}

		log.Printf("[Apify] Poll run #%d (run=%s) — status: %s", attempt, runID, status.Data.Status)

		switch status.Data.Status {
		case "SUCCEEDED":
			return nil
		case "FAILED", "ABORTED", "TIMED-OUT":
			return fmt.Errorf("apify actor run %s: %s", runID, status.Data.Status)
		}
	}

	return fmt.Errorf("apify run %s timed out", runID)
}

func (c *DownloaderClient) collectApifyItems(ctx context.Context, runID string) (*DownloadResult, error) {
	itemsURL := fmt.Sprintf("%s/actor-runs/%s/dataset/items?token=%s", c.apifyBase, runID, c.apifyToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, itemsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apify items failed: %w", err)
	}
	defer resp.Body.Close()

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("apify: failed to decode items: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("apify returned no items")
	}
	first := items[0]

	audioURL := firstString(first, "audioUrl", "audio", "audioLink")
	videoURL := firstString(first, "videoUrl", "video", "url", "downloadUrl")
	if audioURL == "" && videoURL == "" {
		return nil, fmt.Errorf("apify returned no audio or video URL")
	}

	if audioURL == "" {
		audioURL, err = c.extractAudio(ctx, videoURL)
		if err != nil {
			return nil, err
		}
	}

	duration := firstFloat(first, "duration", "durationSeconds")
	return &DownloadResult{
		AudioURL: audioURL,
		VideoURL: videoURL,
		Title:    firstString(first, "title", "caption"),
		Duration: duration,
		Source:   "apify",
	}, nil
}

// extractAudio converts a video-only result to mp3 via ConvertAPI.
func (c *DownloaderClient) extractAudio(ctx context.Context, videoURL string) (string, error) {
	if c.convertKey == "" {
		return "", fmt.Errorf("video URL but no audio; CONVERTAPI_SECRET not set")
	}

	body, err := json.Marshal(map[string]any{
		"Parameters": []map[string]any{
			{"Name": "File", "FileValue": map[string]string{"Name": "video.mp4", "Url": videoURL}},
		},
	})
	if err != nil {
		return "", err
	}

	convertURL := "https://v2.convertapi.com/convert/mp4/to/mp3?Secret=" + c.convertKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, convertURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("convertapi failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("convertapi failed (status %d)", resp.StatusCode)
	}

	var data struct {
		Files []struct {
			URL string `json:"Url"`
		} `json:"Files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("convertapi: failed to decode response: %w", err)
	}
	if len(data.Files) == 0 || data.Files[0].URL == "" {
		return "", fmt.Errorf("convertapi returned no audio")
	}
	return data.Files[0].URL, nil
}

func apifyActor(platform model.Platform) string {
	switch platform {
	case model.PlatformYouTube:
		return "streamers~youtube-video-downloader"
	case model.PlatformInstagram:
		return "apilabs~instagram-downloader"
	case model.PlatformTikTok:
		return "epctex~tiktok-video-downloader"
	default:
		return "streamers~youtube-video-downloader"
	}
}

func apifyInput(url string, platform model.Platform) map[string]any {
	switch platform {
	case model.PlatformYouTube:
		return map[string]any{"startUrls": []map[string]string{{"url": url}}, "format": "mp3"}
	case model.PlatformInstagram:
		return map[string]any{"directUrls": []string{url}}
	default:
		return map[string]any{"startUrls": []map[string]string{{"url": url}}}
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstFloat(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok {
			return v
		}
	}
	return 0
}

// IsConfigured returns true if at least one provider is configured
func (c *DownloaderClient) IsConfigured() bool {
	return (c.serviceURL != "" && c.serviceKey != "") || c.apifyToken != ""
}
