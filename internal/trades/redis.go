package trades

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection parameters.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	PoolSize   int    `mapstructure:"pool_size"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// RedisProvider reads open positions written by the execution side.
//
// Key schema:
//
//	{prefix}:{INSTRUMENT} - hash, field = trade id, value = JSON ActiveTrade
type RedisProvider struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisProvider connects and pings.
func NewRedisProvider(ctx context.Context, cfg RedisConfig) (*RedisProvider, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "trades:active"
	}
	return &RedisProvider{rdb: rdb, prefix: prefix}, nil
}

func (p *RedisProvider) key(instrument string) string {
	return p.prefix + ":" + strings.ToUpper(strings.TrimSpace(instrument))
}

// ActiveTrades loads the instrument hash.
func (p *RedisProvider) ActiveTrades(ctx context.Context, instrument string) ([]ActiveTrade, error) {
	fields, err := p.rdb.HGetAll(ctx, p.key(instrument)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: active trades %s: %w", instrument, err)
	}
	return decodeTrades(instrument, fields)
}

// Put stores or replaces one trade.
func (p *RedisProvider) Put(ctx context.Context, t ActiveTrade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis: marshal trade %s: %w", t.ID, err)
	}
	if err := p.rdb.HSet(ctx, p.key(t.Instrument), t.ID, data).Err(); err != nil {
		return fmt.Errorf("redis: put trade %s: %w", t.ID, err)
	}
	return nil
}

// Remove deletes a closed trade.
func (p *RedisProvider) Remove(ctx context.Context, instrument, id string) error {
	if err := p.rdb.HDel(ctx, p.key(instrument), id).Err(); err != nil {
		return fmt.Errorf("redis: remove trade %s: %w", id, err)
	}
	return nil
}

// Close closes the connection.
func (p *RedisProvider) Close() error {
	return p.rdb.Close()
}

func decodeTrades(instrument string, fields map[string]string) ([]ActiveTrade, error) {
	out := make([]ActiveTrade, 0, len(fields))
	for id, raw := range fields {
		var t ActiveTrade
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("redis: decode trade %s: %w", id, err)
		}
		if t.ID == "" {
			t.ID = id
		}
		if t.Instrument == "" {
			t.Instrument = instrument
		}
		dir, err := ParseDirection(string(t.Direction))
		if err != nil {
			return nil, fmt.Errorf("redis: trade %s: %w", id, err)
		}
		t.Direction = dir
		out = append(out, t)
	}
	sortTrades(out)
	return out, nil
}
