package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/venuesearch/internal/db"
)

// delIfEqualScript removes a lease only when the caller still owns it.
const delIfEqualScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.b().Get().Key(key).Build()
	data, err := s.do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return data, nil
}

// GetWithTTL pipelines GET and PTTL so a value copied into another tier never outlives its source.
func (s *Store) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error) {
	results := s.client.DoMulti(ctx,
		s.b().Get().Key(key).Build(),
		s.b().Pttl().Key(key).Build(),
	)

	data, err := results[0].AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, 0, db.ErrKeyNotFound
		}
		return nil, 0, &db.Error{Op: db.OpGet, Err: err}
	}

	ms, err := results[1].AsInt64()
	if err != nil {
		return nil, 0, &db.Error{Op: db.OpGet, Err: err}
	}
	if ms == -2 {
		// expired between the two commands
		return nil, 0, db.ErrKeyNotFound
	}
	return data, time.Duration(ms) * time.Millisecond, nil
}

// Set stores a value at the given key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	cmd := s.b().Set().Key(key).Value(string(value)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// SetWithTTL stores a value with an expiration.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := s.b().Arbitrary("SET").Keys(key).
		Args(string(value), "PX", strconv.FormatInt(ttl.Milliseconds(), 10)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// SetNX stores value with a TTL only if the key does not exist yet.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	cmd := s.b().Arbitrary("SET").Keys(key).
		Args(string(value), "NX", "PX", strconv.FormatInt(ttl.Milliseconds(), 10)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return false, nil
		}
		return false, &db.Error{Op: db.OpSet, Err: err}
	}
	return true, nil
}

// DelIfEqual deletes key only when its value equals value.
func (s *Store) DelIfEqual(ctx context.Context, key string, value []byte) (bool, error) {
	cmd := s.b().Arbitrary("EVAL").Args(delIfEqualScript, "1").Keys(key).Args(string(value)).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return false, &db.Error{Op: db.OpEval, Err: err}
	}
	return n > 0, nil
}
