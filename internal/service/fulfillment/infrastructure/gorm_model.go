// internal/service/fulfillment/infrastructure/gorm_model.go
package infrastructure

import "time"

// OrderModel 对应数据库中的 fulfillment_order 表
type OrderModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	Status        string `gorm:"size:16;index"`
	Quantity      int
	TargetPrimary string `gorm:"size:191"`
	TargetZone    string `gorm:"size:64"`
	IsFusion      bool
	ServiceID     int64
	MemberIDs     string `gorm:"type:text"` // 逗号分隔的有序成员服务 ID
	ReferenceID   string `gorm:"type:text"` // 拼接后的供应商引用串
	Compensated   bool
	DispatchState string `gorm:"size:16;index"`
	DispatchedAt  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "fulfillment_order"
}

// UnitOrderModel 对应数据库中的 fulfillment_unit_order 表
type UnitOrderModel struct {
	ID            uint   `gorm:"primaryKey"`
	OrderID       string `gorm:"size:64;index"`
	ServiceID     int64
	ProviderCode  string `gorm:"size:32"`
	ServiceCode   string `gorm:"size:64"`
	TargetPrimary string `gorm:"size:191"`
	TargetZone    string `gorm:"size:64"`
	UnitIndex     int
	SubRef        string `gorm:"size:80;uniqueIndex"`
	Quantity      int
	Accepted      bool
	ProviderRef   string `gorm:"size:128"`
	RawStatus     string `gorm:"size:64"`
	Status        string `gorm:"size:16"`
	ErrorKind     string `gorm:"size:32"`
	ErrorMessage  string `gorm:"type:text"`
	Redispatches  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (UnitOrderModel) TableName() string {
	return "fulfillment_unit_order"
}

// CompensationModel 对应数据库中的 fulfillment_compensation 表
type CompensationModel struct {
	ID        int64  `gorm:"primaryKey"`
	OrderID   string `gorm:"size:64;index"`
	Kind      string `gorm:"size:16"`
	ItemID    string `gorm:"size:64"`
	Reserved  int
	Released  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CompensationModel) TableName() string {
	return "fulfillment_compensation"
}

// ServiceModel 对应数据库中的 catalog_service 表（只读）
type ServiceModel struct {
	ID           int64  `gorm:"primaryKey"`
	Name         string `gorm:"size:191"`
	ProviderCode string `gorm:"size:32"`
	ProviderSKU  string `gorm:"size:64"`
	Active       bool
	Fusion       bool
	MemberIDs    string `gorm:"type:text"`
}

func (ServiceModel) TableName() string {
	return "catalog_service"
}

// InvoiceModel 对应数据库中的 payment_invoice 表（只读）
type InvoiceModel struct {
	OrderID     string `gorm:"primaryKey;size:64"`
	Gateway     string `gorm:"size:32"`
	AmountCents int64
}

func (InvoiceModel) TableName() string {
	return "payment_invoice"
}

// VoucherModel 对应数据库中的 voucher 表，补偿时只回退 usage_count
type VoucherModel struct {
	ID         int64  `gorm:"primaryKey"`
	Code       string `gorm:"size:64;uniqueIndex"`
	UsageCount int64
}

func (VoucherModel) TableName() string {
	return "voucher"
}
