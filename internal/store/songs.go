package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clipbeat/api/internal/model"
)

func songKey(id string) string       { return fmt.Sprintf("song:%s", id) }
func jobSongsKey(jobID string) string { return fmt.Sprintf("job:songs:%s", jobID) }

// CreateSong stores the song and appends it to the job's song list.
// Insertion order is preserved, so callers control ranking.
func (s *Store) CreateSong(ctx context.Context, song *model.Song) error {
	data, err := json.Marshal(song)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, songKey(song.ID), data, 0)
	pipe.RPush(ctx, jobSongsKey(song.JobID), song.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) ListSongsByJob(ctx context.Context, jobID string) ([]*model.Song, error) {
	ids, err := s.redis.LRange(ctx, jobSongsKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	songs := make([]*model.Song, 0, len(ids))
	for _, id := range ids {
		data, err := s.redis.Get(ctx, songKey(id)).Bytes()
		if err != nil {
			continue
		}
		var song model.Song
		if err := json.Unmarshal(data, &song); err != nil {
			continue
		}
		songs = append(songs, &song)
	}
	return songs, nil
}
