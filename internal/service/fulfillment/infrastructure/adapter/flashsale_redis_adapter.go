// internal/service/fulfillment/infrastructure/adapter/flashsale_redis_adapter.go
package adapter

import (
	"context"
	"fmt"

	"fulcrum/internal/pkg/logger"
	"fulcrum/internal/pkg/redis"
)

const (
	flashSaleStockKeyFormat = "flashsale:stock:{%s}" // 可用库存
	flashSaleSoldKeyFormat  = "flashsale:sold:{%s}"  // 已售计数

	restoreScriptName = "flashsale_restore"

	// restoreScript 原子地归还库存：
	// 库存键不存在说明商品不限量，直接返回 0，什么都不改。
	// 两个键带相同的 hash tag，集群模式下落在同一个槽。
	restoreScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
redis.call('INCRBY', KEYS[1], ARGV[1])
redis.call('DECRBY', KEYS[2], ARGV[1])
return 1
`
)

// FlashSaleRedisAdapter 实现 port.FlashSaleStock。
// 抢购下单时用 Lua 扣减库存，这里用对称的 Lua 归还，
// 保证"可用 + 已售"的总量在补偿前后守恒。
type FlashSaleRedisAdapter struct {
	redisClient *redis.Client
}

func NewFlashSaleRedisAdapter(redisClient *redis.Client) (*FlashSaleRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(restoreScriptName, restoreScript); err != nil {
		return nil, fmt.Errorf("load flash sale restore script: %w", err)
	}
	return &FlashSaleRedisAdapter{redisClient: redisClient}, nil
}

// Restore 归还 qty 个单位。返回 false 表示该商品未启用库存追踪。
func (a *FlashSaleRedisAdapter) Restore(ctx context.Context, itemID string, qty int) (bool, error) {
	stockKey := fmt.Sprintf(flashSaleStockKeyFormat, itemID)
	soldKey := fmt.Sprintf(flashSaleSoldKeyFormat, itemID)

	result, err := a.redisClient.RunScript(ctx, restoreScriptName, []string{stockKey, soldKey}, qty)
	if err != nil {
		return false, fmt.Errorf("flash sale restore for item %s: %w", itemID, err)
	}
	tracked, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("flash sale restore returned unexpected type %T", result)
	}
	if tracked == 0 {
		logger.Ctx(ctx).Info().Str("item_id", itemID).Msg("item is untracked, nothing to restore")
		return false, nil
	}
	logger.Ctx(ctx).Info().Str("item_id", itemID).Int("qty", qty).Msg("flash sale stock restored")
	return true, nil
}

// PrepareFlashSaleItem 初始化商品的库存键（测试和运营补录用）。
func (a *FlashSaleRedisAdapter) PrepareFlashSaleItem(ctx context.Context, itemID string, stock int64) error {
	stockKey := fmt.Sprintf(flashSaleStockKeyFormat, itemID)
	soldKey := fmt.Sprintf(flashSaleSoldKeyFormat, itemID)

	pipe := a.redisClient.GetClient().Pipeline()
	pipe.Set(ctx, stockKey, stock, 0)
	pipe.Set(ctx, soldKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("prepare flash sale item %s: %w", itemID, err)
	}
	return nil
}
