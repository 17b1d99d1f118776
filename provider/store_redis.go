package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes namespacing the three record kinds within one logical
// database.
const (
	sessionKeyPrefix      = "session:"
	authCodeKeyPrefix     = "auth_code:"
	refreshTokenKeyPrefix = "refresh_token:"
)

// RedisStore is a Store backed by a redis-compatible server, relying on the
// server's key expiry as the TTL authority. GETDEL gives ConsumeAuthCode
// its atomic get-and-delete semantics, so two concurrent redemption
// attempts of the same code cannot both succeed.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a RedisStore and verifies connectivity with a ping.
func NewRedisStore(ctx context.Context, client redis.UniversalClient) (*RedisStore, error) {
	const op = "provider.NewRedisStore"
	if client == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, ErrNilParameter)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: unable to connect to redis: %w", op, err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) put(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("unable to encode record: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("unable to store record: %w", err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("unable to read record: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unable to decode record: %w", err)
	}
	return true, nil
}

// PutSession implements Store.
func (s *RedisStore) PutSession(ctx context.Context, id string, sess *Session, ttl time.Duration) error {
	const op = "provider.(RedisStore).PutSession"
	if err := s.put(ctx, sessionKeyPrefix+id, sess, ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetSession implements Store.
func (s *RedisStore) GetSession(ctx context.Context, id string) (*Session, bool, error) {
	const op = "provider.(RedisStore).GetSession"
	var sess Session
	ok, err := s.get(ctx, sessionKeyPrefix+id, &sess)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &sess, true, nil
}

// DeleteSession implements Store.
func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	const op = "provider.(RedisStore).DeleteSession"
	if err := s.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ActiveSessionForMember implements Store by scanning live session keys for
// one belonging to the member. Acceptable for a demonstration provider's
// session counts; a production deployment would keep a per-member index.
func (s *RedisStore) ActiveSessionForMember(ctx context.Context, memberID int64) (bool, error) {
	const op = "provider.(RedisStore).ActiveSessionForMember"
	iter := s.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		var sess Session
		ok, err := s.get(ctx, iter.Val(), &sess)
		if err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		if ok && sess.MemberID == memberID {
			return true, nil
		}
	}
	if err := iter.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return false, nil
}

// PutAuthCode implements Store.
func (s *RedisStore) PutAuthCode(ctx context.Context, code string, c *AuthCode, ttl time.Duration) error {
	const op = "provider.(RedisStore).PutAuthCode"
	if err := s.put(ctx, authCodeKeyPrefix+code, c, ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetAuthCode implements Store.
func (s *RedisStore) GetAuthCode(ctx context.Context, code string) (*AuthCode, bool, error) {
	const op = "provider.(RedisStore).GetAuthCode"
	var c AuthCode
	ok, err := s.get(ctx, authCodeKeyPrefix+code, &c)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

// ConsumeAuthCode implements Store using GETDEL, so exactly one of any
// number of concurrent consumers observes the record.
func (s *RedisStore) ConsumeAuthCode(ctx context.Context, code string) (*AuthCode, bool, error) {
	const op = "provider.(RedisStore).ConsumeAuthCode"
	data, err := s.client.GetDel(ctx, authCodeKeyPrefix+code).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("%s: unable to consume code: %w", op, err)
	}
	var c AuthCode
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false, fmt.Errorf("%s: unable to decode record: %w", op, err)
	}
	return &c, true, nil
}

// DeleteAuthCode implements Store.
func (s *RedisStore) DeleteAuthCode(ctx context.Context, code string) error {
	const op = "provider.(RedisStore).DeleteAuthCode"
	if err := s.client.Del(ctx, authCodeKeyPrefix+code).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PutRefreshToken implements Store.
func (s *RedisStore) PutRefreshToken(ctx context.Context, token string, r *RefreshToken, ttl time.Duration) error {
	const op = "provider.(RedisStore).PutRefreshToken"
	if err := s.put(ctx, refreshTokenKeyPrefix+token, r, ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetRefreshToken implements Store.
func (s *RedisStore) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, bool, error) {
	const op = "provider.(RedisStore).GetRefreshToken"
	var r RefreshToken
	ok, err := s.get(ctx, refreshTokenKeyPrefix+token, &r)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

// DeleteRefreshToken implements Store.
func (s *RedisStore) DeleteRefreshToken(ctx context.Context, token string) error {
	const op = "provider.(RedisStore).DeleteRefreshToken"
	if err := s.client.Del(ctx, refreshTokenKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
