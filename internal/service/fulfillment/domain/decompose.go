// internal/service/fulfillment/domain/decompose.go
package domain

import "fmt"

// Decompose 把一个已确认的订单拆解为有序的单元下单清单。
//
// 拆解规则：
//   - 非融合 + 按次派发供应商：数量 N 展开为 N 个 spec，子引用后缀 "-1".."-N"
//   - 非融合 + 数量原生供应商：恰好 1 个 spec，quantity 字段承载数量
//   - 融合订单：每个成员服务恰好 1 个 spec（同一目标、同一数量），无论成员分布在几个供应商
//
// services 对非融合订单是长度为 1 的切片，对融合订单是有序成员列表。
// modeOf 由组装根提供，查询供应商的派发能力；查询失败视为配置错误。
func Decompose(order *Order, services []Service, modeOf func(providerCode string) (DispatchMode, error)) ([]UnitOrderSpec, error) {
	if len(services) == 0 {
		return nil, NewValidationError(ReasonInactiveService, "order has no resolvable services")
	}
	for _, svc := range services {
		if !svc.Active {
			return nil, NewValidationError(ReasonInactiveService,
				fmt.Sprintf("service %d (%s) is not active", svc.ID, svc.Name))
		}
	}

	if order.IsFusion {
		return decomposeFusion(order, services)
	}
	return decomposeSingle(order, services[0], modeOf)
}

func decomposeSingle(order *Order, svc Service, modeOf func(string) (DispatchMode, error)) ([]UnitOrderSpec, error) {
	mode, err := modeOf(svc.ProviderCode)
	if err != nil {
		return nil, err
	}

	if mode == DispatchQuantityNative {
		return []UnitOrderSpec{{
			OrderID:      order.ID,
			ServiceID:    svc.ID,
			ProviderCode: svc.ProviderCode,
			ServiceCode:  svc.ProviderSKU,
			Target:       order.Target,
			Index:        1,
			SubRef:       fmt.Sprintf("%s-1", order.ID),
			Quantity:     order.Quantity,
		}}, nil
	}

	// 按次派发：每个数量一次调用，子引用确定性编号，重放同一订单得到同一批引用
	specs := make([]UnitOrderSpec, 0, order.Quantity)
	for i := 1; i <= order.Quantity; i++ {
		specs = append(specs, UnitOrderSpec{
			OrderID:      order.ID,
			ServiceID:    svc.ID,
			ProviderCode: svc.ProviderCode,
			ServiceCode:  svc.ProviderSKU,
			Target:       order.Target,
			Index:        i,
			SubRef:       fmt.Sprintf("%s-%d", order.ID, i),
			Quantity:     1,
		})
	}
	return specs, nil
}

func decomposeFusion(order *Order, members []Service) ([]UnitOrderSpec, error) {
	specs := make([]UnitOrderSpec, 0, len(members))
	for i, svc := range members {
		specs = append(specs, UnitOrderSpec{
			OrderID:      order.ID,
			ServiceID:    svc.ID,
			ProviderCode: svc.ProviderCode,
			ServiceCode:  svc.ProviderSKU,
			Target:       order.Target,
			Index:        i + 1,
			SubRef:       fmt.Sprintf("%s-%d", order.ID, i+1),
			Quantity:     order.Quantity, // 数量作为参数传递，不展开
		})
	}
	return specs, nil
}
