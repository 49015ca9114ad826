package domain

import (
	"math"
	"strings"
	"time"
)

// MailboxType 信箱类型
type MailboxType string

const (
	MailboxStandard     MailboxType = "STANDARD"
	MailboxLarge        MailboxType = "LARGE"
	MailboxParcelLocker MailboxType = "PARCEL_LOCKER"
)

// Valid 判断信箱类型是否合法
func (t MailboxType) Valid() bool {
	switch t {
	case MailboxStandard, MailboxLarge, MailboxParcelLocker:
		return true
	}
	return false
}

// DimensionUnit 尺寸单位
type DimensionUnit string

const (
	UnitCM   DimensionUnit = "CM"
	UnitInch DimensionUnit = "INCH"
)

// CentimetersPerInch 英寸到厘米的换算系数
const CentimetersPerInch = 2.54

// Valid 判断单位是否合法
func (u DimensionUnit) Valid() bool {
	switch u {
	case UnitCM, UnitInch:
		return true
	}
	return false
}

// Dimensions 三维尺寸
type Dimensions struct {
	Width  float64       `json:"width"`
	Height float64       `json:"height"`
	Depth  float64       `json:"depth"`
	Unit   DimensionUnit `json:"unit"`
}

// Validate 三个维度必须大于零且单位合法
func (d Dimensions) Validate() error {
	if !d.Unit.Valid() {
		return Validation("unsupported dimension unit %q", d.Unit)
	}
	if !(d.Width > 0) || !(d.Height > 0) || !(d.Depth > 0) {
		return Validation("width, height and depth must be greater than zero")
	}
	return nil
}

// ToCentimeters 统一换算为厘米，保留四位小数以消除浮点误差
func (d Dimensions) ToCentimeters() (Dimensions, error) {
	cm, err := d.centimeters()
	if err != nil {
		return Dimensions{}, err
	}
	return cm.rounded(), nil
}

// centimeters 换算为厘米但不取舍，供比较使用
func (d Dimensions) centimeters() (Dimensions, error) {
	if err := d.Validate(); err != nil {
		return Dimensions{}, err
	}
	factor := 1.0
	switch d.Unit {
	case UnitCM:
		factor = 1
	case UnitInch:
		factor = CentimetersPerInch
	}
	return Dimensions{
		Width:  d.Width * factor,
		Height: d.Height * factor,
		Depth:  d.Depth * factor,
		Unit:   UnitCM,
	}, nil
}

func (d Dimensions) rounded() Dimensions {
	return Dimensions{
		Width:  roundCM(d.Width),
		Height: roundCM(d.Height),
		Depth:  roundCM(d.Depth),
		Unit:   d.Unit,
	}
}

func roundCM(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// FitResult 装箱判定结果，附带统一单位后的尺寸
type FitResult struct {
	Fits             bool       `json:"fits"`
	NormalizedParcel Dimensions `json:"normalizedParcel"`
	NormalizedLocker Dimensions `json:"normalizedLocker"`
}

// CheckFit 轴对齐比较，不尝试旋转；相等视为可放入。
// 比较使用未取舍的厘米值，只有返回的统一尺寸保留四位小数。
func CheckFit(parcel, locker Dimensions) (FitResult, error) {
	p, err := parcel.centimeters()
	if err != nil {
		return FitResult{}, err
	}
	l, err := locker.centimeters()
	if err != nil {
		return FitResult{}, err
	}
	return FitResult{
		Fits:             p.Width <= l.Width && p.Height <= l.Height && p.Depth <= l.Depth,
		NormalizedParcel: p.rounded(),
		NormalizedLocker: l.rounded(),
	}, nil
}

// MailingLocation 实体代收网点
type MailingLocation struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	Address   string    `json:"address" gorm:"type:text"`
	IsActive  bool      `json:"isActive" gorm:"default:true"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Cluster 网点内的一组信箱
type Cluster struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	LocationID string    `json:"locationId" gorm:"type:varchar(36);index;not null"`
	Name       string    `json:"name" gorm:"type:varchar(255);not null"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Mailbox 可单独寻址的信箱或包裹柜，占用状态由订阅维护
type Mailbox struct {
	ID             string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ClusterID      string        `json:"clusterId" gorm:"type:varchar(36);uniqueIndex:idx_cluster_box;not null"`
	BoxNumber      string        `json:"boxNumber" gorm:"type:varchar(50);uniqueIndex:idx_cluster_box;not null"`
	Type           MailboxType   `json:"type" gorm:"type:varchar(20);default:'STANDARD';index"`
	Width          float64       `json:"width"`
	Height         float64       `json:"height"`
	Depth          float64       `json:"depth"`
	DimensionUnit  DimensionUnit `json:"dimensionUnit" gorm:"type:varchar(10);default:'CM'"`
	IsOccupied     bool          `json:"isOccupied" gorm:"default:false;index"`
	SubscriptionID *string       `json:"subscriptionId,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Dimensions 信箱内部尺寸
func (m *Mailbox) Dimensions() Dimensions {
	return Dimensions{Width: m.Width, Height: m.Height, Depth: m.Depth, Unit: m.DimensionUnit}
}

// NormalizeBoxNumber 去除首尾空白，空值返回 VALIDATION
func NormalizeBoxNumber(boxNumber string) (string, error) {
	trimmed := strings.TrimSpace(boxNumber)
	if trimmed == "" {
		return "", Validation("box number must not be empty")
	}
	return trimmed, nil
}
