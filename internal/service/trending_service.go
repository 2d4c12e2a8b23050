package service

import (
	"context"

	"github.com/clipbeat/api/internal/model"
)

// TrendingStore is the trending slice of the store
type TrendingStore interface {
	BumpTrending(ctx context.Context, song *model.Song, sourceURL string) error
	TopTrending(ctx context.Context, limit int) ([]*model.TrendingEntry, error)
}

// TrendingService fronts the rolling per-song recognition aggregates.
type TrendingService struct {
	store TrendingStore
}

func NewTrendingService(trendingStore TrendingStore) *TrendingService {
	return &TrendingService{store: trendingStore}
}

// Record counts one recognition of song seen in sourceURL. Songs without
// an ISRC are not aggregated.
func (s *TrendingService) Record(ctx context.Context, song *model.Song, sourceURL string) error {
	return s.store.BumpTrending(ctx, song, sourceURL)
}

// Top returns this week's most recognized songs.
func (s *TrendingService) Top(ctx context.Context, limit int) ([]*model.TrendingEntry, error) {
	return s.store.TopTrending(ctx, limit)
}
