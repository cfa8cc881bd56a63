package services

import (
	"context"
	"encoding/json"
	"errors"

	"quicksell/internal/domain"

	"github.com/go-redis/redis/v8"
)

const incrementTiersKey = "bid_increment_tiers"

// IncrementRules resolves minimum bid increments for auctions that carry no
// explicit increment amount. Tiers are shared across instances through redis.
type IncrementRules struct {
	client *redis.Client
	tiers  *domain.IncrementTiers
}

func NewIncrementRules(client *redis.Client) *IncrementRules {
	return &IncrementRules{
		client: client,
	}
}

func (r *IncrementRules) LoadTiers(ctx context.Context) error {
	data, err := r.client.Get(ctx, incrementTiersKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Seed the defaults so every instance resolves the same tiers.
			// Amounts are in the smallest currency unit.
			r.tiers = &domain.IncrementTiers{
				Tiers: map[string]int64{
					"0-10000":     500,
					"10000-50000": 1000,
					"50000+":      2500,
				},
			}
			return r.saveTiers(ctx)
		}
		return err
	}

	var tiers domain.IncrementTiers
	if err := json.Unmarshal([]byte(data), &tiers); err != nil {
		return err
	}

	r.tiers = &tiers
	return nil
}

func (r *IncrementRules) saveTiers(ctx context.Context) error {
	data, err := json.Marshal(r.tiers)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, incrementTiersKey, string(data), 0).Err()
}

func (r *IncrementRules) IncrementFor(amount int64) int64 {
	if r.tiers == nil {
		return 500 // default
	}
	if amount < 10000 {
		return r.tiers.Tiers["0-10000"]
	} else if amount < 50000 {
		return r.tiers.Tiers["10000-50000"]
	} else {
		return r.tiers.Tiers["50000+"]
	}
}

// StaticIncrement is an IncrementSource with a single fixed step. Used where
// no redis-backed tier table is wired (tests, tooling).
type StaticIncrement int64

func (s StaticIncrement) IncrementFor(int64) int64        { return int64(s) }
func (s StaticIncrement) LoadTiers(context.Context) error { return nil }
