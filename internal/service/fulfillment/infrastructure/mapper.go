// internal/service/fulfillment/infrastructure/mapper.go
package infrastructure

import (
	"strconv"
	"strings"

	"fulcrum/internal/service/fulfillment/domain"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(m *OrderModel) *domain.Order {
	order := &domain.Order{
		ID:       m.ID,
		Status:   domain.Status(m.Status),
		Quantity: m.Quantity,
		Target: domain.Target{
			Primary: m.TargetPrimary,
			Zone:    m.TargetZone,
		},
		IsFusion:      m.IsFusion,
		ServiceID:     m.ServiceID,
		MemberIDs:     parseIDList(m.MemberIDs),
		Compensated:   m.Compensated,
		DispatchState: domain.DispatchState(m.DispatchState),
		DispatchedAt:  m.DispatchedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.ReferenceID != "" {
		order.ProviderRefs = strings.Split(m.ReferenceID, domain.RefDelimiter)
	}
	return order
}

// ToOrderModel 将领域模型转换为数据库模型
func ToOrderModel(o *domain.Order) *OrderModel {
	return &OrderModel{
		ID:            o.ID,
		Status:        string(o.Status),
		Quantity:      o.Quantity,
		TargetPrimary: o.Target.Primary,
		TargetZone:    o.Target.Zone,
		IsFusion:      o.IsFusion,
		ServiceID:     o.ServiceID,
		MemberIDs:     joinIDList(o.MemberIDs),
		ReferenceID:   o.JoinedRefs(),
		Compensated:   o.Compensated,
		DispatchState: string(o.DispatchState),
		DispatchedAt:  o.DispatchedAt,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func ToDomainUnit(m *UnitOrderModel) domain.UnitOrder {
	return domain.UnitOrder{
		Spec: domain.UnitOrderSpec{
			OrderID:      m.OrderID,
			ServiceID:    m.ServiceID,
			ProviderCode: m.ProviderCode,
			ServiceCode:  m.ServiceCode,
			Target:       domain.Target{Primary: m.TargetPrimary, Zone: m.TargetZone},
			Index:        m.UnitIndex,
			SubRef:       m.SubRef,
			Quantity:     m.Quantity,
		},
		Accepted:           m.Accepted,
		ProviderRef:        m.ProviderRef,
		RawStatus:          m.RawStatus,
		Status:             domain.Status(m.Status),
		ErrorKind:          m.ErrorKind,
		Error:              m.ErrorMessage,
		RedispatchAttempts: m.Redispatches,
	}
}

func ToUnitModel(u *domain.UnitOrder) *UnitOrderModel {
	return &UnitOrderModel{
		OrderID:       u.Spec.OrderID,
		ServiceID:     u.Spec.ServiceID,
		ProviderCode:  u.Spec.ProviderCode,
		ServiceCode:   u.Spec.ServiceCode,
		TargetPrimary: u.Spec.Target.Primary,
		TargetZone:    u.Spec.Target.Zone,
		UnitIndex:     u.Spec.Index,
		SubRef:        u.Spec.SubRef,
		Quantity:      u.Spec.Quantity,
		Accepted:      u.Accepted,
		ProviderRef:   u.ProviderRef,
		RawStatus:     u.RawStatus,
		Status:        string(u.Status),
		ErrorKind:     u.ErrorKind,
		ErrorMessage:  u.Error,
		Redispatches:  u.RedispatchAttempts,
	}
}

func ToDomainService(m *ServiceModel) domain.Service {
	return domain.Service{
		ID:           m.ID,
		Name:         m.Name,
		ProviderCode: m.ProviderCode,
		ProviderSKU:  m.ProviderSKU,
		Active:       m.Active,
		Fusion:       m.Fusion,
		MemberIDs:    parseIDList(m.MemberIDs),
	}
}

func ToDomainCompensation(m *CompensationModel) domain.CompensationRecord {
	return domain.CompensationRecord{
		ID:       m.ID,
		OrderID:  m.OrderID,
		Kind:     domain.InventoryKind(m.Kind),
		ItemID:   m.ItemID,
		Reserved: m.Reserved,
		Released: m.Released,
	}
}

func parseIDList(raw string) []int64 {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func joinIDList(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
