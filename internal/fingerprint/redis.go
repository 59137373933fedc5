package fingerprint

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iago/resume-analyzer-back/internal/apperr"
)

const (
	inFlightPrefix = "inflight:"
	cachedPrefix   = "done:"
)

// markTerminalScript turns an in-flight mapping for the given job into a
// cache entry that expires after ARGV[2] milliseconds.
var markTerminalScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("SET", KEYS[1], ARGV[3], "PX", ARGV[2])
end
return false
`)

// compareDeleteScript deletes KEYS[1] only while it still holds one of ARGV.
var compareDeleteScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
for _, expected in ipairs(ARGV) do
	if current == expected then
		return redis.call("DEL", KEYS[1])
	end
end
return 0
`)

type RedisConfig struct {
	Prefix string
	TTL    time.Duration
	// LockTTL bounds how long a crashed creator can block a fingerprint.
	LockTTL time.Duration
	// WaitTimeout bounds how long a loser waits for the winner's job id.
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// RedisIndex shares the fingerprint mapping across API instances. A short
// lock key elects the single creator; the mapping key holds the job id.
type RedisIndex struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	lockTTL      time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
}

func NewRedisIndex(client redis.UniversalClient, config RedisConfig) *RedisIndex {
	if strings.TrimSpace(config.Prefix) == "" {
		config.Prefix = "resume:fp"
	}
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 10 * time.Second
	}
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = 5 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 25 * time.Millisecond
	}
	return &RedisIndex{
		client:       client,
		prefix:       strings.TrimSuffix(config.Prefix, ":"),
		ttl:          config.TTL,
		lockTTL:      config.LockTTL,
		waitTimeout:  config.WaitTimeout,
		pollInterval: config.PollInterval,
	}
}

func (r *RedisIndex) Resolve(ctx context.Context, fingerprint string, create CreateFunc) (Resolution, error) {
	key := r.key(fingerprint)
	lockKey := key + ":lock"
	waitCtx, cancel := context.WithTimeout(ctx, r.waitTimeout)
	defer cancel()

	for {
		resolution, found, err := r.lookup(ctx, key)
		if err != nil || found {
			return resolution, err
		}

		token := uuid.NewString()
		acquired, err := r.client.SetNX(ctx, lockKey, token, r.lockTTL).Result()
		if err != nil {
			return Resolution{}, apperr.Wrap(err, "acquire fingerprint lock")
		}
		if acquired {
			return r.createLocked(ctx, key, lockKey, token, create)
		}

		timer := time.NewTimer(r.pollInterval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return Resolution{}, ctx.Err()
			}
			return Resolution{}, apperr.Newf("timed out waiting for concurrent submission of fingerprint %s", fingerprint)
		case <-timer.C:
		}
	}
}

func (r *RedisIndex) createLocked(ctx context.Context, key, lockKey, token string, create CreateFunc) (Resolution, error) {
	defer func() {
		_ = compareDeleteScript.Run(context.WithoutCancel(ctx), r.client, []string{lockKey}, token).Err()
	}()

	// Another creator may have finished between our lookup and the lock.
	resolution, found, err := r.lookup(ctx, key)
	if err != nil || found {
		return resolution, err
	}

	jobID, err := create(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if err := r.client.Set(ctx, key, inFlightPrefix+jobID, 0).Err(); err != nil {
		return Resolution{}, apperr.Wrapf(err, "record fingerprint mapping for job %s", jobID)
	}
	return Resolution{JobID: jobID, Created: true}, nil
}

func (r *RedisIndex) lookup(ctx context.Context, key string) (Resolution, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if apperr.Is(err, redis.Nil) {
		return Resolution{}, false, nil
	}
	if err != nil {
		return Resolution{}, false, apperr.Wrap(err, "read fingerprint mapping")
	}
	switch {
	case strings.HasPrefix(value, inFlightPrefix):
		return Resolution{JobID: strings.TrimPrefix(value, inFlightPrefix)}, true, nil
	case strings.HasPrefix(value, cachedPrefix):
		return Resolution{JobID: strings.TrimPrefix(value, cachedPrefix), Cached: true}, true, nil
	default:
		return Resolution{}, false, apperr.Newf("malformed fingerprint mapping %q", value)
	}
}

func (r *RedisIndex) MarkTerminal(ctx context.Context, fingerprint, jobID string) error {
	err := markTerminalScript.Run(ctx, r.client, []string{r.key(fingerprint)},
		inFlightPrefix+jobID, r.ttl.Milliseconds(), cachedPrefix+jobID).Err()
	if err != nil && !apperr.Is(err, redis.Nil) {
		return apperr.Wrapf(err, "mark fingerprint terminal for job %s", jobID)
	}
	return nil
}

func (r *RedisIndex) Forget(ctx context.Context, fingerprint, jobID string) error {
	err := compareDeleteScript.Run(ctx, r.client, []string{r.key(fingerprint)},
		inFlightPrefix+jobID, cachedPrefix+jobID).Err()
	if err != nil && !apperr.Is(err, redis.Nil) {
		return apperr.Wrapf(err, "forget fingerprint for job %s", jobID)
	}
	return nil
}

func (r *RedisIndex) key(fingerprint string) string {
	return r.prefix + ":" + fingerprint
}
