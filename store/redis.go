package store

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisStore is a Store over a redis client. Ordered sets map directly onto
// redis sorted sets, so no emulation is needed. Batch runs as a MULTI/EXEC
// transaction pipeline.
type redisStore struct {
	client redis.UniversalClient
}

// NewRedis creates a Store over the given redis client. The caller owns the
// client's lifecycle.
func NewRedis(client redis.UniversalClient) Store {
	return &redisStore{client: client}
}

func (r *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *redisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisStore) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *redisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, key).Result()
	return n > 0, err
}

func (r *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return r.client.Persist(ctx, key).Result()
	}
	return r.client.Expire(ctx, key, ttl).Result()
}

func (r *redisStore) ZAdd(ctx context.Context, key string, score float64, member string, ttl time.Duration) (int64, error) {
	added, err := r.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Result()
	if err != nil {
		return 0, err
	}
	if ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return added, err
		}
	}
	return added, nil
}

func (r *redisStore) ZRemoveByScoreRange(ctx context.Context, key string, min, max float64) (int64, error) {
	return r.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Result()
}

func (r *redisStore) ZRemoveByRankRange(ctx context.Context, key string, start, stop int64) (int64, error) {
	return r.client.ZRemRangeByRank(ctx, key, start, stop).Result()
}

func (r *redisStore) ZCard(ctx context.Context, key string) (int64, error) {
	return r.client.ZCard(ctx, key).Result()
}

func (r *redisStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.ZRange(ctx, key, start, stop).Result()
}

func (r *redisStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	zs, err := r.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}

	members := make([]Member, 0, len(zs))
	for _, z := range zs {
		value, _ := z.Member.(string)
		members = append(members, Member{Value: value, Score: z.Score})
	}
	return members, nil
}

func (r *redisStore) Batch(ctx context.Context, ops []Op) ([]Result, error) {
	pipe := r.client.TxPipeline()

	cmds := make([]redis.Cmder, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case OpGet:
			cmds[i] = pipe.Get(ctx, op.Key)
		case OpSet:
			ttl := op.TTL
			if ttl < 0 {
				ttl = 0
			}
			cmds[i] = pipe.Set(ctx, op.Key, op.Value, ttl)
		case OpDelete:
			cmds[i] = pipe.Del(ctx, op.Key)
		case OpExpire:
			cmds[i] = pipe.Expire(ctx, op.Key, op.TTL)
		case OpZAdd:
			cmds[i] = pipe.ZAdd(ctx, op.Key, &redis.Z{Score: op.Score, Member: op.Member})
		case OpZRemoveByScoreRange:
			cmds[i] = pipe.ZRemRangeByScore(ctx, op.Key, formatScore(op.Min), formatScore(op.Max))
		case OpZRemoveByRankRange:
			cmds[i] = pipe.ZRemRangeByRank(ctx, op.Key, op.Start, op.Stop)
		case OpZCard:
			cmds[i] = pipe.ZCard(ctx, op.Key)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	results := make([]Result, len(ops))
	for i, cmd := range cmds {
		results[i] = redisCmdResult(cmd)
	}
	return results, nil
}

func redisCmdResult(cmd redis.Cmder) (r Result) {
	switch cmd := cmd.(type) {
	case *redis.StringCmd:
		value, err := cmd.Result()
		if err == redis.Nil {
			return Result{}
		}
		return Result{Value: value, Found: err == nil, Err: err}
	case *redis.StatusCmd:
		return Result{Err: cmd.Err()}
	case *redis.IntCmd:
		n, err := cmd.Result()
		return Result{Count: n, Found: n > 0, Err: err}
	case *redis.BoolCmd:
		ok, err := cmd.Result()
		return Result{Found: ok, Err: err}
	default:
		return Result{Err: cmd.Err()}
	}
}

func formatScore(f float64) string {
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsInf(f, 1) {
		return "+inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
