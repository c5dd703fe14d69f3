package linking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisCodePrefix  = "alexa:code:"
	redisTokenPrefix = "alexa:token:"
	// usedCodeRetention keeps consumed codes around so replays answer code_used instead of invalid_code.
	usedCodeRetention = time.Hour
)

var compareAndSetUsedScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local record = cjson.decode(raw)
if record.used then
  return 0
end
record.used = true
record.used_at_s = tonumber(ARGV[1])
redis.call('SET', KEYS[1], cjson.encode(record), 'KEEPTTL')
return 1
`)

// RedisStore implements CodeStore and TokenStore on Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a connected Redis client.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("linking: redis client required")
	}
	return &RedisStore{client: client}, nil
}

// NewRedisClient connects to addr and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("linking: redis ping: %w", err)
	}
	return client, nil
}

// PutCode stores the record with a TTL covering its lifetime plus a replay window.
func (s *RedisStore) PutCode(ctx context.Context, record AuthorizationCode) error {
	lifetime := time.Duration(record.ExpiresAtSeconds-record.CreatedAtSeconds) * time.Second
	if lifetime <= 0 {
		return fmt.Errorf("linking: code expiry must follow creation")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("linking: marshal code: %w", err)
	}
	stored, err := s.client.SetNX(ctx, redisCodePrefix+record.Code, data, lifetime+usedCodeRetention).Result()
	if err != nil {
		return err
	}
	if !stored {
		return ErrCodeExists
	}
	return nil
}

// GetCode loads a code record.
func (s *RedisStore) GetCode(ctx context.Context, code string) (AuthorizationCode, error) {
	raw, err := s.client.Get(ctx, redisCodePrefix+code).Result()
	if err == redis.Nil {
		return AuthorizationCode{}, ErrCodeNotFound
	}
	if err != nil {
		return AuthorizationCode{}, err
	}
	var record AuthorizationCode
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return AuthorizationCode{}, fmt.Errorf("linking: unmarshal code: %w", err)
	}
	return record, nil
}

// CompareAndSetUsed runs the used flip as a Lua script so it is atomic on the server.
func (s *RedisStore) CompareAndSetUsed(ctx context.Context, code string, usedAt time.Time) (bool, error) {
	won, err := compareAndSetUsedScript.Run(
		ctx,
		s.client,
		[]string{redisCodePrefix + code},
		strconv.FormatInt(usedAt.Unix(), 10),
	).Int()
	if err != nil {
		return false, err
	}
	return won == 1, nil
}

// PutToken records a token binding without expiry.
func (s *RedisStore) PutToken(ctx context.Context, binding TokenBinding) error {
	return s.client.Set(ctx, redisTokenPrefix+binding.Token, binding.UserID, 0).Err()
}

// LookupToken returns the user bound to token.
func (s *RedisStore) LookupToken(ctx context.Context, token string) (string, bool, error) {
	userID, err := s.client.Get(ctx, redisTokenPrefix+token).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return userID, true, nil
}
