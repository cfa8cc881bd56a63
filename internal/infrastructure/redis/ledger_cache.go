package redis

import (
	"context"
	"fmt"
	"strconv"

	"quicksell/internal/domain"

	"github.com/go-redis/redis/v8"
)

// RedisLedgerCache holds the derived bid projection per auction. It is a
// read-path cache only; the MySQL ledger remains authoritative.
type RedisLedgerCache struct {
	client *redis.Client
}

func NewRedisLedgerCache(client *redis.Client) *RedisLedgerCache {
	return &RedisLedgerCache{client: client}
}

func ledgerKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:ledger", auctionID)
}

// Cache writes happen after the store commit, outside the row lock, so two
// appends can reach redis out of commit order. The script keys on bid_count:
// a write that is not strictly newer than the cached projection is dropped.
var putStateScript = redis.NewScript(`
    local cached_count = redis.call('HGET', KEYS[1], 'bid_count')
    if cached_count ~= false and tonumber(cached_count) >= tonumber(ARGV[3]) then
        return 0
    end
    redis.call('HSET', KEYS[1],
        'current_price', ARGV[1],
        'leader_id', ARGV[2],
        'bid_count', ARGV[3],
        'unique_bidders', ARGV[4])
    return 1
`)

func (r *RedisLedgerCache) PutState(ctx context.Context, state *domain.LedgerState) error {
	return putStateScript.Run(ctx, r.client, []string{ledgerKey(state.AuctionID)},
		strconv.FormatInt(state.CurrentPrice, 10),
		state.LeaderID,
		state.BidCount,
		state.UniqueBidders,
	).Err()
}

func (r *RedisLedgerCache) GetState(ctx context.Context, auctionID string) (*domain.LedgerState, error) {
	result, err := r.client.HGetAll(ctx, ledgerKey(auctionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil // cache miss
	}

	state := &domain.LedgerState{AuctionID: auctionID}
	state.CurrentPrice, err = strconv.ParseInt(result["current_price"], 10, 64)
	if err != nil {
		return nil, err
	}
	state.LeaderID = result["leader_id"]
	if state.BidCount, err = strconv.Atoi(result["bid_count"]); err != nil {
		return nil, err
	}
	if state.UniqueBidders, err = strconv.Atoi(result["unique_bidders"]); err != nil {
		return nil, err
	}

	return state, nil
}

func (r *RedisLedgerCache) Evict(ctx context.Context, auctionID string) error {
	return r.client.Del(ctx, ledgerKey(auctionID)).Err()
}
