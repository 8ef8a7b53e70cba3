// internal/service/fulfillment/application/compensation.go
package application

import (
	"context"

	"fulcrum/internal/pkg/logger"
	"fulcrum/internal/service/fulfillment/domain"
	"fulcrum/internal/service/fulfillment/domain/port"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CompensationEngine 在订单终局失败时把下单时预留的有限库存原样归还。
//
// 它作为状态事件的消费者接入：只响应进入 FAILED / CANCELLED 的变更。
// 每条补偿记录由 released 标志守护，检查与置位是一次原子的
// compare-and-swap，因此同一订单的补偿绝不会执行两次。
type CompensationEngine struct {
	records  domain.CompensationRepository
	orders   domain.OrderRepository
	stock    port.FlashSaleStock
	vouchers port.VoucherLedger
	tracer   trace.Tracer
}

func NewCompensationEngine(
	records domain.CompensationRepository,
	orders domain.OrderRepository,
	stock port.FlashSaleStock,
	vouchers port.VoucherLedger,
	tracer trace.Tracer,
) *CompensationEngine {
	return &CompensationEngine{records: records, orders: orders, stock: stock, vouchers: vouchers, tracer: tracer}
}

// StatusChanged 实现 port.StatusEventSink。
func (e *CompensationEngine) StatusChanged(ctx context.Context, event domain.OrderStatusChanged) error {
	if event.To != domain.StatusFailed && event.To != domain.StatusCancelled {
		return nil
	}
	return e.Compensate(ctx, event.OrderID)
}

// Compensate 释放订单的全部未释放补偿记录。
// 已完成的订单绝不补偿；重复调用对已释放的记录是空操作。
func (e *CompensationEngine) Compensate(ctx context.Context, orderID string) error {
	ctx, span := e.tracer.Start(ctx, "compensation.Run")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := e.orders.FindByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if order.Status == domain.StatusCompleted {
		// 防御运营误操作：完成的订单没有可归还的预留
		span.AddEvent("SkippedCompletedOrder")
		return nil
	}

	records, err := e.records.FindUnreleased(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(records) == 0 {
		span.AddEvent("NothingToCompensate")
		return nil
	}

	released := 0
	for _, record := range records {
		// 原子 CAS：输掉竞争（已被释放）就跳过，保证恰好一次
		won, err := e.records.MarkReleased(ctx, record.ID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !won {
			continue
		}

		if err := e.release(ctx, record); err != nil {
			// 标志已置位但回补失败：必须人工介入，绝不能自动重放
			span.RecordError(err)
			span.SetStatus(codes.Error, "inventory release failed after flag set")
			logger.Ctx(ctx).Error().Err(err).
				Str("order_id", orderID).
				Str("kind", string(record.Kind)).
				Str("item_id", record.ItemID).
				Msg("CRITICAL: compensation record marked released but inventory restore failed")
			return err
		}
		compensationRunsTotal.WithLabelValues(string(record.Kind)).Inc()
		released++
	}

	if released > 0 && !order.Compensated {
		order.Compensated = true
		if err := e.orders.Save(ctx, order); err != nil {
			span.RecordError(err)
			return err
		}
	}
	logger.Ctx(ctx).Info().Str("order_id", orderID).Int("released", released).Msg("compensation finished")
	return nil
}

func (e *CompensationEngine) release(ctx context.Context, record domain.CompensationRecord) error {
	switch record.Kind {
	case domain.InventoryFlashSale:
		tracked, err := e.stock.Restore(ctx, record.ItemID, record.Reserved)
		if err != nil {
			return err
		}
		if !tracked {
			// 不限量商品没有库存可还，记录标志已置位即可
			logger.Ctx(ctx).Info().Str("item_id", record.ItemID).Msg("item stock is untracked, nothing to restore")
		}
		return nil
	case domain.InventoryVoucher:
		return e.vouchers.ReleaseUsage(ctx, record.ItemID)
	default:
		logger.Ctx(ctx).Error().Str("kind", string(record.Kind)).Msg("unknown inventory kind in compensation record")
		return nil
	}
}
