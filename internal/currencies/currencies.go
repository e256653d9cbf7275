// Package currencies builds the currency registry from configuration.
package currencies

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"kelvin-core/pkg/cache"
	"kelvin-core/pkg/config"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/currency/bitcoin"
	"kelvin-core/pkg/currency/ethereum"
	"kelvin-core/pkg/currency/tron"
	"kelvin-core/pkg/lock"
	"kelvin-core/pkg/logger"
)

// Names is the fixed registration order.
var Names = []string{"eth", "erc20", "btc", "ltc", "trx"}

// ConnectRedis 连接到 Redis 并 Ping 一次
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("无法连接到 Redis: %w", err)
	}
	logger.Info("Redis 连接成功", zap.String("addr", addr))
	return rdb, nil
}

// NewCache 返回内存缓存; 配置了 redis_addr 时组合为 L1 内存 + L2 Redis。
// 返回的 close 函数总是非 nil。
func NewCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, func(), error) {
	local := cache.NewMemoryCache(cfg.TTL, 2*cfg.TTL)
	if cfg.RedisAddr == "" {
		return local, func() {}, nil
	}
	rdb, err := ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, func() {}, err
	}
	remote := cache.NewRedisCache(rdb, "kelvin:")
	return cache.NewMultiLevelCache(local, remote), func() { _ = rdb.Close() }, nil
}

// NewLocker 配置了 redis_addr 时返回分布式锁, 否则返回进程内锁
func NewLocker(ctx context.Context, cfg config.CacheConfig) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewMemoryLock(), func() {}, nil
	}
	rdb, err := ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, func() {}, err
	}
	return lock.NewRedisLock(rdb), func() { _ = rdb.Close() }, nil
}

// NewRegistry 按 Names 的顺序构造全部币种实现
func NewRegistry(cfg config.Config, c cache.Cache) (*currency.Registry, error) {
	timeout := cfg.HTTP.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ethOpts := ethereum.Options{
		RPC:      cfg.Ethereum.RPC,
		APIURL:   cfg.Ethereum.APIURL,
		APIKey:   cfg.Ethereum.APIKey,
		Timeout:  timeout,
		Cache:    c,
		CacheTTL: cfg.Cache.TTL,
	}

	impls := map[string]currency.Currency{
		"eth": ethereum.NewEther(ethOpts),
		"erc20": ethereum.NewERC20(ethereum.Token{
			Symbol:    cfg.ERC20.Symbol,
			Decimals:  cfg.ERC20.Decimals,
			Contracts: cfg.ERC20.Contracts,
		}, ethOpts),
		"btc": bitcoin.NewBitcoin(bitcoin.Options{API: cfg.Bitcoin.API, Timeout: timeout, Cache: c, CacheTTL: cfg.Cache.TTL}),
		"ltc": bitcoin.NewLitecoin(bitcoin.Options{API: cfg.Litecoin.API, Timeout: timeout, Cache: c, CacheTTL: cfg.Cache.TTL}),
		"trx": tron.New(tron.Options{API: cfg.Tron.API, APIKey: cfg.Tron.APIKey, Timeout: timeout}),
	}

	reg := currency.NewRegistry()
	for _, name := range Names {
		if err := reg.Register(name, impls[name]); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
