package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/clipbeat/api/internal/model"
)

const maxSampleReels = 5

func trendingKey(isrc string) string        { return fmt.Sprintf("trending:%s", isrc) }
func trendingSourcesKey(isrc string) string { return fmt.Sprintf("trending:sources:%s", isrc) }
func trendingSamplesKey(isrc string) string { return fmt.Sprintf("trending:samples:%s", isrc) }

// weekField returns the counter field for the ISO week containing t, e.g.
// "week:2026-35". Keying counters by week makes every update a plain
// HINCRBY; rolling "this week / last week" reads pick the right fields.
func weekField(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("week:%04d-%02d", year, week)
}

func weeklyRankKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("trending:rank:%04d-%02d", year, week)
}

// BumpTrending additively records one recognition of song seen in
// sourceURL. All counter updates are atomic increments, safe under
// concurrent bumps from unrelated jobs.
func (s *Store) BumpTrending(ctx context.Context, song *model.Song, sourceURL string) error {
	if song.ISRC == "" {
		return nil
	}

	now := time.Now()
	key := trendingKey(song.ISRC)

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key,
		"isrc", song.ISRC,
		"title", song.Title,
		"artist", song.Artist,
		"artworkUrl", song.ArtworkURL,
		"spotifyUrl", song.SpotifyURL,
		"appleMusicUrl", song.AppleMusicURL,
		"lastRecognizedAt", now.Unix(),
	)
	pipe.HIncrBy(ctx, key, "total", 1)
	pipe.HIncrBy(ctx, key, weekField(now), 1)
	pipe.ZIncrBy(ctx, weeklyRankKey(now), 1, song.ISRC)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	// Track distinct source clips; keep a small bounded sample list.
	added, err := s.redis.SAdd(ctx, trendingSourcesKey(song.ISRC), sourceURL).Result()
	if err != nil {
		return err
	}
	if added > 0 {
		pipe = s.redis.TxPipeline()
		pipe.LPush(ctx, trendingSamplesKey(song.ISRC), sourceURL)
		pipe.LTrim(ctx, trendingSamplesKey(song.ISRC), 0, maxSampleReels-1)
		_, err = pipe.Exec(ctx)
	}
	return err
}

// GetTrending loads the aggregate for one ISRC.
func (s *Store) GetTrending(ctx context.Context, isrc string) (*model.TrendingEntry, error) {
	fields, err := s.redis.HGetAll(ctx, trendingKey(isrc)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	now := time.Now()
	entry := &model.TrendingEntry{
		ISRC:                 fields["isrc"],
		Title:                fields["title"],
		Artist:               fields["artist"],
		ArtworkURL:           fields["artworkUrl"],
		SpotifyURL:           fields["spotifyUrl"],
		AppleMusicURL:        fields["appleMusicUrl"],
		TotalRecognitions:    parseInt(fields["total"]),
		RecognitionsThisWeek: parseInt(fields[weekField(now)]),
		RecognitionsLastWeek: parseInt(fields[weekField(now.AddDate(0, 0, -7))]),
	}
	if ts := parseInt(fields["lastRecognizedAt"]); ts > 0 {
		entry.LastRecognizedAt = time.Unix(ts, 0)
	}

	entry.UniqueReels, _ = s.redis.SCard(ctx, trendingSourcesKey(isrc)).Result()
	entry.SampleReelURLs, _ = s.redis.LRange(ctx, trendingSamplesKey(isrc), 0, -1).Result()
	return entry, nil
}

// TopTrending returns up to limit entries ranked by this week's
// recognitions, highest first.
func (s *Store) TopTrending(ctx context.Context, limit int) ([]*model.TrendingEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	isrcs, err := s.redis.ZRevRange(ctx, weeklyRankKey(time.Now()), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]*model.TrendingEntry, 0, len(isrcs))
	for _, isrc := range isrcs {
		entry, err := s.GetTrending(ctx, isrc)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
