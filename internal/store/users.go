package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/clipbeat/api/internal/model"
)

func userKey(id string) string { return fmt.Sprintf("user:%s", id) }

func (s *Store) GetUser(ctx context.Context, userID string) (*model.User, error) {
	data, err := s.redis.Get(ctx, userKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) SaveUser(ctx context.Context, user *model.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, userKey(user.ID), data, 0).Err()
}
