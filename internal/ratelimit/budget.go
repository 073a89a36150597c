package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// microsPerUSD keeps the Redis spend counter integral.
const microsPerUSD = 1_000_000

// DailyBudget caps estimated spend per UTC day via a Redis counter.
// A nil client disables the cap entirely.
type DailyBudget struct {
	rdb      *redis.Client
	limitUSD float64
}

func NewDailyBudget(rdb *redis.Client, limitUSD float64) *DailyBudget {
	return &DailyBudget{rdb: rdb, limitUSD: limitUSD}
}

func dailyBudgetKey() string {
	return fmt.Sprintf("llmpool:budget:daily:%s", time.Now().UTC().Format("2006-01-02"))
}

// Allow reports whether today's recorded spend is still under the cap.
// Fails open on Redis errors.
func (b *DailyBudget) Allow(ctx context.Context) (bool, error) {
	if b.rdb == nil || b.limitUSD <= 0 {
		return true, nil
	}

	spent, err := b.rdb.Get(ctx, dailyBudgetKey()).Int64()
	if err != nil && err != redis.Nil {
		return true, nil
	}
	return float64(spent)/microsPerUSD < b.limitUSD, nil
}

// RecordSpend adds the cost of a completed call to today's counter.
func (b *DailyBudget) RecordSpend(ctx context.Context, costUSD float64) error {
	if b.rdb == nil || costUSD <= 0 {
		return nil
	}

	pipe := b.rdb.Pipeline()
	pipe.IncrBy(ctx, dailyBudgetKey(), int64(costUSD*microsPerUSD))
	// Expire at end of day UTC + 1 hour buffer
	now := time.Now().UTC()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	pipe.Expire(ctx, dailyBudgetKey(), endOfDay.Sub(now)+time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}
