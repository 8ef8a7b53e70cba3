// internal/service/fulfillment/infrastructure/adapter/voucher_gorm_adapter.go
package adapter

import (
	"context"

	"fulcrum/internal/pkg/logger"
	"fulcrum/internal/service/fulfillment/infrastructure"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// VoucherGormAdapter 实现 port.VoucherLedger。
// 代金券只记使用次数，补偿就是把 usage_count 减一。
type VoucherGormAdapter struct {
	db *gorm.DB
}

func NewVoucherGormAdapter(db *gorm.DB) *VoucherGormAdapter {
	return &VoucherGormAdapter{db: db}
}

// ReleaseUsage 归还一次使用名额。带 usage_count > 0 的条件，
// 重复调用不会把计数减成负数；没有命中行不算错误，只记日志。
func (a *VoucherGormAdapter) ReleaseUsage(ctx context.Context, voucherID string) error {
	result := a.db.WithContext(ctx).Model(&infrastructure.VoucherModel{}).
		Where("code = ? AND usage_count > 0", voucherID).
		UpdateColumn("usage_count", gorm.Expr("usage_count - 1"))
	if result.Error != nil {
		return errors.Wrapf(result.Error, "release voucher usage for %s", voucherID)
	}
	if result.RowsAffected == 0 {
		logger.Ctx(ctx).Warn().Str("voucher_id", voucherID).
			Msg("voucher usage already at zero, nothing to release")
		return nil
	}
	logger.Ctx(ctx).Info().Str("voucher_id", voucherID).Msg("voucher usage released")
	return nil
}
