package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheTTL is how long an untouched balance stays cached.
const CacheTTL = time.Hour

// deductScript consumes the tagged balance first, then the main balance.
// Returns {status, fromTagged, fromMain, main, tagged}; status -2 is a
// cache miss and -1 insufficient funds.
var deductScript = redis.NewScript(`
local main = redis.call("GET", KEYS[1])
if not main then
	return {-2, 0, 0, 0, 0}
end
main = tonumber(main)
local tagged = tonumber(redis.call("GET", KEYS[2]) or "0")
local amount = tonumber(ARGV[1])
if main + tagged < amount then
	return {-1, 0, 0, main, tagged}
end
local fromTagged = math.min(tagged, amount)
local fromMain = amount - fromTagged
if fromTagged > 0 then
	tagged = redis.call("DECRBY", KEYS[2], fromTagged)
end
if fromMain > 0 then
	main = redis.call("DECRBY", KEYS[1], fromMain)
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
redis.call("PEXPIRE", KEYS[2], ARGV[2])
return {0, fromTagged, fromMain, main, tagged}
`)

// adjustScript moves both balances when the entry is cached.
var adjustScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return {-2, 0, 0}
end
local main = redis.call("INCRBY", KEYS[1], ARGV[1])
local tagged = redis.call("INCRBY", KEYS[2], ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
redis.call("PEXPIRE", KEYS[2], ARGV[3])
return {0, main, tagged}
`)

// RedisCache implements Cache on redis keys credits:{uid} and
// credits:tagged:{uid}.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a redis balance cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, ttl: CacheTTL}
}

func mainKey(userID int64) string {
	return "credits:" + strconv.FormatInt(userID, 10)
}

func taggedKey(userID int64) string {
	return "credits:tagged:" + strconv.FormatInt(userID, 10)
}

func (c *RedisCache) Balances(ctx context.Context, userID int64) (Balances, error) {
	vals, err := c.client.MGet(ctx, mainKey(userID), taggedKey(userID)).Result()
	if err != nil {
		return Balances{}, fmt.Errorf("redis mget balances: %w", err)
	}
	if vals[0] == nil {
		return Balances{}, ErrCacheMiss
	}
	main, err := parseInt(vals[0])
	if err != nil {
		return Balances{}, err
	}
	tagged, err := parseInt(vals[1])
	if err != nil {
		return Balances{}, err
	}
	return Balances{Main: main, Tagged: tagged}, nil
}

// Seed caches balances unless another writer already did.
func (c *RedisCache) Seed(ctx context.Context, userID int64, b Balances) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, taggedKey(userID), b.Tagged, c.ttl)
		pipe.SetNX(ctx, mainKey(userID), b.Main, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis seed balances: %w", err)
	}
	return nil
}

func (c *RedisCache) Deduct(ctx context.Context, userID, amount int64) (Split, error) {
	res, err := deductScript.Run(ctx, c.client,
		[]string{mainKey(userID), taggedKey(userID)},
		amount, c.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Split{}, fmt.Errorf("redis deduct: %w", err)
	}
	switch res[0] {
	case -2:
		return Split{}, ErrCacheMiss
	case -1:
		return Split{}, ErrInsufficientFunds
	}
	return Split{
		FromTagged: res[1],
		FromMain:   res[2],
		After:      Balances{Main: res[3], Tagged: res[4]},
	}, nil
}

func (c *RedisCache) Adjust(ctx context.Context, userID, mainDelta, taggedDelta int64) (Balances, error) {
	res, err := adjustScript.Run(ctx, c.client,
		[]string{mainKey(userID), taggedKey(userID)},
		mainDelta, taggedDelta, c.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Balances{}, fmt.Errorf("redis adjust: %w", err)
	}
	if res[0] == -2 {
		return Balances{}, ErrCacheMiss
	}
	return Balances{Main: res[1], Tagged: res[2]}, nil
}

// Invalidate drops the cached balances so the next access reloads them.
func (c *RedisCache) Invalidate(ctx context.Context, userID int64) error {
	if err := c.client.Del(ctx, mainKey(userID), taggedKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis del balances: %w", err)
	}
	return nil
}

func parseInt(v interface{}) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt cached balance %q: %w", x, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected cached balance type %T", v)
	}
}
