package target

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	luaIncrScript = `
local key = KEYS[1]
local count = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local ret = redis.call("incrby", key, ARGV[1])
if ret == count then
	if ttl > 0 then
		redis.call("pexpire", key, ARGV[2])
	end
	return {ret, ttl}
end
ttl = redis.call("pttl", key)
return {ret, ttl}
`
	luaPeekScript = `
local key = KEYS[1]
local v = redis.call("get", key)
if v == false then
	return {0, 0}
end
local ttl = redis.call("pttl", key)
return {tonumber(v), ttl}
`
)

// RedisClient is the subset of the go-redis API used by RedisStore.
// *redis.Client and *redis.ClusterClient satisfy it.
type RedisClient interface {
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	EvalSha(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd
	ScriptLoad(ctx context.Context, script string) *redis.StringCmd
}

// RedisStore is a Store shared by every instance pointing at the same
// Redis. Counters are updated by Lua scripts invoked by SHA.
type RedisStore struct {
	prefix string
	client RedisClient

	mu      sync.RWMutex
	incrSHA string
	peekSHA string
}

// NewRedisStore loads the Lua scripts and returns the store.
func NewRedisStore(ctx context.Context, client RedisClient, opts StoreOptions) (*RedisStore, error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "ratecheck"
	}

	s := &RedisStore{prefix: prefix, client: client}
	if err := s.loadScripts(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Get counts one hit for key.
func (s *RedisStore) Get(ctx context.Context, key string, rate Rate) (Context, error) {
	return s.Inc(ctx, key, 1, rate)
}

// Inc counts count hits for key. The first hit of a window sets its TTL.
func (s *RedisStore) Inc(ctx context.Context, key string, count int64, rate Rate) (Context, error) {
	cmd := s.evalSHA(ctx, s.getIncrSHA, []string{s.cacheKey(key)}, count, rate.Period.Milliseconds())
	return currentContext(cmd, rate)
}

// Peek returns the state of key without counting.
func (s *RedisStore) Peek(ctx context.Context, key string, rate Rate) (Context, error) {
	cmd := s.evalSHA(ctx, s.getPeekSHA, []string{s.cacheKey(key)})
	return currentContext(cmd, rate)
}

// Reset deletes the counter of key.
func (s *RedisStore) Reset(ctx context.Context, key string, rate Rate) (Context, error) {
	if err := s.client.Del(ctx, s.cacheKey(key)).Err(); err != nil {
		return Context{}, errors.Wrapf(err, "failed to reset %q", key)
	}
	return contextFromState(rate, time.Now().Add(rate.Period), 0), nil
}

func (s *RedisStore) cacheKey(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) loadScripts(ctx context.Context) error {
	incrSHA, err := s.client.ScriptLoad(ctx, luaIncrScript).Result()
	if err != nil {
		return errors.Wrap(err, `failed to load "incr" lua script`)
	}

	peekSHA, err := s.client.ScriptLoad(ctx, luaPeekScript).Result()
	if err != nil {
		return errors.Wrap(err, `failed to load "peek" lua script`)
	}

	s.mu.Lock()
	s.incrSHA = incrSHA
	s.peekSHA = peekSHA
	s.mu.Unlock()
	return nil
}

func (s *RedisStore) getIncrSHA() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.incrSHA
}

func (s *RedisStore) getPeekSHA() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peekSHA
}

// evalSHA runs a loaded script, reloading the scripts once if Redis lost
// them (restart or SCRIPT FLUSH).
func (s *RedisStore) evalSHA(ctx context.Context, sha func() string, keys []string, args ...any) *redis.Cmd {
	cmd := s.client.EvalSha(ctx, sha(), keys, args...)
	if err := cmd.Err(); err == nil || !isScriptGone(err) {
		return cmd
	}

	if err := s.loadScripts(ctx); err != nil {
		cmd = redis.NewCmd(ctx)
		cmd.SetErr(err)
		return cmd
	}
	return s.client.EvalSha(ctx, sha(), keys, args...)
}

func isScriptGone(err error) bool {
	return strings.HasPrefix(err.Error(), "NOSCRIPT")
}

func parseCountAndTTL(cmd *redis.Cmd) (count, ttl int64, err error) {
	result, err := cmd.Result()
	if err != nil {
		return 0, 0, errors.Wrap(err, "redis command failed")
	}

	fields, ok := result.([]any)
	if !ok || len(fields) != 2 {
		return 0, 0, errors.New("two elements in result were expected")
	}

	count, ok1 := fields[0].(int64)
	ttl, ok2 := fields[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, errors.New("type of the count and/or ttl should be number")
	}
	return count, ttl, nil
}

func currentContext(cmd *redis.Cmd, rate Rate) (Context, error) {
	count, ttl, err := parseCountAndTTL(cmd)
	if err != nil {
		return Context{}, err
	}

	expiration := time.Now().Add(rate.Period)
	if ttl > 0 {
		expiration = time.Now().Add(time.Duration(ttl) * time.Millisecond)
	}
	return contextFromState(rate, expiration, count), nil
}
