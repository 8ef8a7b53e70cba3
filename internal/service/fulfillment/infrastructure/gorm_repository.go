// internal/service/fulfillment/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"fulcrum/internal/service/fulfillment/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "find order")
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	model := ToOrderModel(order)
	return errors.Wrap(r.db.WithContext(ctx).Save(model).Error, "save order")
}

// BeginDispatch 用一条带条件的 UPDATE 实现 compare-and-swap：
// 只有订单仍为 PENDING 且派发标记为 NONE 时才能赢得派发权。
func (r *GormOrderRepository) BeginDispatch(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND dispatch_state = ? AND status = ?",
			id, string(domain.DispatchNone), string(domain.StatusPending)).
		Updates(map[string]interface{}{
			"dispatch_state": string(domain.DispatchInflight),
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "begin dispatch")
	}
	return result.RowsAffected == 1, nil
}

func (r *GormOrderRepository) AbortDispatch(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND dispatch_state = ?", id, string(domain.DispatchInflight)).
		Updates(map[string]interface{}{
			"dispatch_state": string(domain.DispatchNone),
			"updated_at":     time.Now(),
		}).Error
	return errors.Wrap(err, "abort dispatch")
}

// CompleteDispatch 在一个事务里持久化派发结果：订单行和全部单元行。
// 单元行以 sub_ref 为冲突键做 upsert，人工 requeue 重跑时覆盖旧行。
func (r *GormOrderRepository) CompleteDispatch(ctx context.Context, order *domain.Order, units []domain.UnitOrder) error {
	now := time.Now()
	order.DispatchState = domain.DispatchDone
	order.DispatchedAt = &now

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(ToOrderModel(order)).Error; err != nil {
			return errors.Wrap(err, "save order on dispatch completion")
		}
		for i := range units {
			model := ToUnitModel(&units[i])
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "sub_ref"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"accepted", "provider_ref", "raw_status", "status",
					"error_kind", "error_message", "redispatches", "updated_at",
				}),
			}).Create(model).Error
			if err != nil {
				return errors.Wrap(err, "upsert unit order")
			}
		}
		return nil
	})
}

func (r *GormOrderRepository) FindUnits(ctx context.Context, orderID string) ([]domain.UnitOrder, error) {
	var models []UnitOrderModel
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("unit_index ASC").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find unit orders")
	}
	units := make([]domain.UnitOrder, len(models))
	for i := range models {
		units[i] = ToDomainUnit(&models[i])
	}
	return units, nil
}

// SaveUnits 覆盖对账可能改写的全部单元字段，
// 包括重发成功后才出现的 accepted / provider_ref。
func (r *GormOrderRepository) SaveUnits(ctx context.Context, units []domain.UnitOrder) error {
	for i := range units {
		err := r.db.WithContext(ctx).Model(&UnitOrderModel{}).
			Where("sub_ref = ?", units[i].Spec.SubRef).
			Updates(map[string]interface{}{
				"accepted":      units[i].Accepted,
				"provider_ref":  units[i].ProviderRef,
				"status":        string(units[i].Status),
				"raw_status":    units[i].RawStatus,
				"error_kind":    units[i].ErrorKind,
				"error_message": units[i].Error,
				"redispatches":  units[i].RedispatchAttempts,
				"updated_at":    time.Now(),
			}).Error
		if err != nil {
			return errors.Wrap(err, "save unit order")
		}
	}
	return nil
}

func (r *GormOrderRepository) FindDueForReconcile(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND dispatch_state = ? AND dispatched_at < ?",
			[]string{string(domain.StatusPending), string(domain.StatusProcessing)},
			string(domain.DispatchDone), before).
		Order("dispatched_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find due orders")
	}
	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = ToDomainOrder(&models[i])
	}
	return orders, nil
}

// GormCatalogRepository 实现 domain.ServiceRepository（只读）
type GormCatalogRepository struct {
	db *gorm.DB
}

func NewGormCatalogRepository(db *gorm.DB) *GormCatalogRepository {
	return &GormCatalogRepository{db: db}
}

func (r *GormCatalogRepository) FindByID(ctx context.Context, id int64) (*domain.Service, error) {
	var model ServiceModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewValidationError(domain.ReasonInactiveService,
				fmt.Sprintf("service %d does not exist", id))
		}
		return nil, errors.Wrap(err, "find service")
	}
	svc := ToDomainService(&model)
	return &svc, nil
}

// FindByIDs 按给定顺序返回服务；任何一个缺失都会报错，
// 融合订单的成员顺序决定了单元的派发顺序，不允许悄悄丢失。
func (r *GormCatalogRepository) FindByIDs(ctx context.Context, ids []int64) ([]domain.Service, error) {
	var models []ServiceModel
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find services")
	}

	byID := make(map[int64]ServiceModel, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	services := make([]domain.Service, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, domain.NewValidationError(domain.ReasonInactiveService,
				fmt.Sprintf("member service %d does not exist", id))
		}
		services = append(services, ToDomainService(&m))
	}
	return services, nil
}

// GormInvoiceRepository 实现 domain.InvoiceRepository（只读）
type GormInvoiceRepository struct {
	db *gorm.DB
}

func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

func (r *GormInvoiceRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Invoice, error) {
	var model InvoiceModel
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, errors.Wrap(err, "find invoice")
	}
	return &domain.Invoice{
		OrderID:     model.OrderID,
		Gateway:     model.Gateway,
		AmountCents: model.AmountCents,
	}, nil
}

// GormCompensationRepository 实现 domain.CompensationRepository
type GormCompensationRepository struct {
	db *gorm.DB
}

func NewGormCompensationRepository(db *gorm.DB) *GormCompensationRepository {
	return &GormCompensationRepository{db: db}
}

func (r *GormCompensationRepository) FindUnreleased(ctx context.Context, orderID string) ([]domain.CompensationRecord, error) {
	var models []CompensationModel
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND released = ?", orderID, false).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find unreleased compensation records")
	}
	records := make([]domain.CompensationRecord, len(models))
	for i := range models {
		records[i] = ToDomainCompensation(&models[i])
	}
	return records, nil
}

// MarkReleased 用一条带条件的 UPDATE 原子地把 released 从 false 置为 true。
func (r *GormCompensationRepository) MarkReleased(ctx context.Context, recordID int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&CompensationModel{}).
		Where("id = ? AND released = ?", recordID, false).
		Updates(map[string]interface{}{
			"released":   true,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "mark compensation released")
	}
	return result.RowsAffected == 1, nil
}
