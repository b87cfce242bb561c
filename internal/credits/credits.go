package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/framesift/framesift/internal/config"
	"github.com/framesift/framesift/internal/logger"
)

// ErrInsufficientCredits is a hard rejection: the metered operation is
// not performed at all, as opposed to in-flight degradation.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Ledger is the external metering collaborator: balance check before a
// metered operation, usage tracking after it.
type Ledger interface {
	CheckBalance(ctx context.Context, userID string, estimatedUnits int) error
	Track(ctx context.Context, userID string, units int, metadata map[string]string) error
}

// UnitsForTokens converts token usage to billing units with a fixed
// markup: perKTokens credits per 1000 tokens, rounded up, minimum 1.
func UnitsForTokens(tokens, perKTokens int) int {
	if tokens <= 0 {
		return 1
	}
	units := (tokens*perKTokens + 999) / 1000
	if units < 1 {
		units = 1
	}
	return units
}

// RedisLedger keeps per-user balances in a counter key and journals
// usage into a Redis stream for reconciliation.
type RedisLedger struct {
	client *redis.Client
	log    *logger.Logger
}

func NewRedisLedger(cfg config.Redis, log *logger.Logger) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLedger{
		client: client,
		log:    log.With("component", "credits"),
	}, nil
}

func balanceKey(userID string) string {
	return "credits:balance:" + userID
}

const usageStream = "credits:usage"

func (l *RedisLedger) CheckBalance(ctx context.Context, userID string, estimatedUnits int) error {
	balance, err := l.client.Get(ctx, balanceKey(userID)).Int64()
	if err == redis.Nil {
		return ErrInsufficientCredits
	}
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}

	if balance < int64(estimatedUnits) {
		l.log.Info("balance check rejected",
			"user_id", userID,
			"balance", balance,
			"estimated", estimatedUnits)
		return ErrInsufficientCredits
	}
	return nil
}

func (l *RedisLedger) Track(ctx context.Context, userID string, units int, metadata map[string]string) error {
	if err := l.client.DecrBy(ctx, balanceKey(userID), int64(units)).Err(); err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}

	values := map[string]interface{}{
		"user_id": userID,
		"units":   units,
		"at":      time.Now().Unix(),
	}
	for k, v := range metadata {
		values["meta:"+k] = v
	}

	if err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: usageStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to journal usage: %w", err)
	}
	return nil
}

// Grant adds credits to a user's balance. Used by the billing
// collaborator and by operator tooling.
func (l *RedisLedger) Grant(ctx context.Context, userID string, units int) error {
	if err := l.client.IncrBy(ctx, balanceKey(userID), int64(units)).Err(); err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}
	return nil
}
