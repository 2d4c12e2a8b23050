// Package store persists jobs, songs, users and trending aggregates in
// Redis. Records are JSON documents; secondary indexes are plain Redis
// sets and lists keyed by the lookup dimension.
package store

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	redis *redis.Client
}

func New(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}
