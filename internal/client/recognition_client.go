package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clipbeat/api/internal/config"
)

// MusicRecognizer defines the interface for acoustic fingerprint matching
type MusicRecognizer interface {
	Identify(ctx context.Context, audioURL string) ([]RecognizedSong, error)
	IsConfigured() bool
}

// RecognizedSong is one candidate match from the recognition catalog
type RecognizedSong struct {
	Title              string  `json:"title"`
	Artist             string  `json:"artist"`
	Album              string  `json:"album,omitempty"`
	ReleaseDate        string  `json:"releaseDate,omitempty"`
	DurationMs         int64   `json:"durationMs,omitempty"`
	ISRC               string  `json:"isrc,omitempty"`
	SpotifyURL         string  `json:"spotifyUrl,omitempty"`
	AppleMusicURL      string  `json:"appleMusicUrl,omitempty"`
	YouTubeURL         string  `json:"youtubeUrl,omitempty"`
	ArtworkURL         string  `json:"artworkUrl,omitempty"`
	Confidence         int     `json:"confidence"`
	MatchedAtSeconds   float64 `json:"matchedAtSeconds"`
	RecognitionService string  `json:"recognitionService"`
}

// ACRCloudClient implements MusicRecognizer against the ACRCloud
// identification API (signature v1, HMAC-SHA1).
type ACRCloudClient struct {
	httpClient   *http.Client
	host         string
	accessKey    string
	accessSecret string
}

func NewACRCloudClient(cfg *config.ACRCloudConfig) *ACRCloudClient {
	return &ACRCloudClient{
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		host:         cfg.Host,
		accessKey:    cfg.AccessKey,
		accessSecret: cfg.AccessSecret,
	}
}

// Identify fingerprints the audio at audioURL against the ACRCloud
// catalog. An empty slice is the valid "no match" outcome, not an error;
// transport and auth failures are errors.
func (c *ACRCloudClient) Identify(ctx context.Context, audioURL string) ([]RecognizedSong, error) {
	if !c.IsConfigured() {
		return nil, nil
	}

	sample, err := c.fetchAudio(ctx, audioURL)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Unix()
	stringToSign := strings.Join([]string{
		"POST",
		"/v1/identify",
		c.accessKey,
		"audio",
		"1",
		strconv.FormatInt(timestamp, 10),
	}, "\n")
	signature := signHmacSHA1(stringToSign, c.accessSecret)

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	part, err := writer.CreateFormFile("sample", "audio.mp3")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(sample); err != nil {
		return nil, err
	}
	_ = writer.WriteField("access_key", c.accessKey)
	_ = writer.WriteField("data_type", "audio")
	_ = writer.WriteField("signature_version", "1")
	_ = writer.WriteField("signature", signature)
	_ = writer.WriteField("timestamp", strconv.FormatInt(timestamp, 10))
	_ = writer.WriteField("sample_bytes", strconv.Itoa(len(sample)))
	if err := writer.Close(); err != nil {
		return nil, err
	}

	identifyURL := fmt.Sprintf("https://%s/v1/identify", c.host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, identifyURL, &form)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	log.Printf("[ACRCloud] → POST %s (%d sample bytes)", identifyURL, len(sample))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("acrcloud request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("acrcloud: failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("acrcloud error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return parseACRCloudResponse(respBody)
}

func (c *ACRCloudClient) fetchAudio(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch audio (status %d)", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func parseACRCloudResponse(body []byte) ([]RecognizedSong, error) {
	var data struct {
		Status struct {
			Code int `json:"code"`
		} `json:"status"`
		Metadata struct {
			Music []struct {
				Title   string `json:"title"`
				Artists []struct {
					Name string `json:"name"`
				} `json:"artists"`
				Album struct {
					Name  string `json:"name"`
					Cover string `json:"cover"`
				} `json:"album"`
				ReleaseDate string `json:"release_date"`
				DurationMs  int64  `json:"duration_ms"`
				ExternalIDs struct {
					ISRC string `json:"isrc"`
				} `json:"external_ids"`
				ExternalMetadata struct {
					Spotify struct {
						Track struct {
							ID string `json:"id"`
						} `json:"track"`
					} `json:"spotify"`
					AppleMusic struct {
						URL string `json:"url"`
					} `json:"apple_music"`
					YouTube struct {
						VID string `json:"vid"`
					} `json:"youtube"`
				} `json:"external_metadata"`
				Score        int   `json:"score"`
				PlayOffsetMs int64 `json:"play_offset_ms"`
			} `json:"music"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("acrcloud: failed to unmarshal response: %w", err)
	}

	// Non-zero status means "no result" (code 1001) or a service-side
	// problem; either way there is nothing to return.
	if data.Status.Code != 0 || len(data.Metadata.Music) == 0 {
		return nil, nil
	}

	songs := make([]RecognizedSong, 0, len(data.Metadata.Music))
	for i, track := range data.Metadata.Music {
		song := RecognizedSong{
			Title:              track.Title,
			Artist:             "Unknown",
			Album:              track.Album.Name,
			ReleaseDate:        track.ReleaseDate,
			DurationMs:         track.DurationMs,
			ISRC:               track.ExternalIDs.ISRC,
			AppleMusicURL:      track.ExternalMetadata.AppleMusic.URL,
			ArtworkURL:         track.Album.Cover,
			Confidence:         track.Score,
			MatchedAtSeconds:   float64(i) * 10,
			RecognitionService: "acrcloud",
		}
		if song.Title == "" {
			song.Title = "Unknown"
		}
		if len(track.Artists) > 0 && track.Artists[0].Name != "" {
			song.Artist = track.Artists[0].Name
		}
		if song.Confidence == 0 {
			song.Confidence = 80
		}
		if track.PlayOffsetMs > 0 {
			song.MatchedAtSeconds = float64(track.PlayOffsetMs) / 1000
		}
		if id := track.ExternalMetadata.Spotify.Track.ID; id != "" {
			song.SpotifyURL = "https://open.spotify.com/track/" + id
		}
		if vid := track.ExternalMetadata.YouTube.VID; vid != "" {
			song.YouTubeURL = "https://youtube.com/watch?v=" + vid
		}
		songs = append(songs, song)
	}
	return songs, nil
}

func signHmacSHA1(message, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// IsConfigured returns true if the client has valid configuration
func (c *ACRCloudClient) IsConfigured() bool {
	return c.host != "" && c.accessKey != "" && c.accessSecret != ""
}
