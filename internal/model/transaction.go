package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易分类常量
// ============================================================================

// 主分类（固定集合）
const (
	CategoryMemberFees  = "MEMBER_FEES" // 会员费
	CategoryEvent       = "EVENT"       // 活动收支
	CategoryGeneral     = "GENERAL"     // 一般科目
	CategoryUnallocated = "UNALLOCATED" // 拆分后未分配余额（仅虚拟子交易使用）
)

// 次级分类码
const (
	ClassCodeInternalTransfer = "INTERNAL_TRANSFER" // 自有账户间内部转账
)

// 资金方向
const (
	DirectionIncome  = "INCOME"  // 收入
	DirectionExpense = "EXPENSE" // 支出
)

// 交易状态
const (
	TransactionStatusRecorded = "RECORDED" // 已入账
	TransactionStatusPending  = "PENDING"  // 待确认
	TransactionStatusVoid     = "VOID"     // 已作废
)

var (
	ErrMissingMemberRef = errors.New("会员费交易缺少会员引用")
	ErrMissingEventRef  = errors.New("活动交易缺少活动引用")
)

// ============================================================================
// 交易实体
// ============================================================================

// Transaction 交易表，账务域的原子记录
//
// 拆分结构约定：
//  1. IsVirtual=true 的交易必有 ParentID，且自身不可再被拆分
//  2. IsSplit=true 的父交易主分类置空，由各虚拟子交易分别承载分类
//  3. 父交易的 AllocatedAmount + UnallocatedAmount = Amount
//  4. 虚拟子交易不参与任何余额计算，只有真实交易（IsVirtual=false）动钱
type Transaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 交易号（全局唯一）
	AccountID     int64           `gorm:"index;not null" json:"account_id"`                            // 所属账户
	BookedAt      time.Time       `gorm:"index;not null" json:"booked_at"`                             // 记账日期
	Direction     string          `gorm:"type:varchar(10);index;not null" json:"direction"`            // 方向 INCOME/EXPENSE
	Amount        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`                   // 金额（非负，方向决定正负号）
	Status        string          `gorm:"type:varchar(20);index;not null" json:"status"`
	Category      string          `gorm:"type:varchar(32);index" json:"category"` // 主分类，拆分父交易置空
	SubCategory   string          `gorm:"type:varchar(64)" json:"sub_category"`
	ClassCode     string          `gorm:"type:varchar(32);index" json:"class_code"` // 次级分类码
	Description   string          `gorm:"type:varchar(256)" json:"description"`
	PaymentMethod string          `gorm:"type:varchar(32)" json:"payment_method"`

	// 分类明细引用。原始设计是无类型的 metadata map，这里改为按主分类
	// 选用的类型化列：会员费交易填 MemberID+FiscalYear，活动交易填 EventID
	MemberID   *int64 `gorm:"index" json:"member_id,omitempty"`
	FiscalYear *int   `json:"fiscal_year,omitempty"`
	EventID    *int64 `gorm:"index" json:"event_id,omitempty"`

	// 拆分结构字段
	IsVirtual         bool            `gorm:"index;not null;default:false" json:"is_virtual"`
	ParentID          *int64          `gorm:"index" json:"parent_id,omitempty"`
	IsSplit           bool            `gorm:"not null;default:false" json:"is_split"`
	SplitCount        int             `gorm:"not null;default:0" json:"split_count"`
	AllocatedAmount   decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"allocated_amount"`
	UnallocatedAmount decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"unallocated_amount"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "ledger_transaction"
}

// IsReal 是否真实交易（参与余额计算）
func (t *Transaction) IsReal() bool {
	return !t.IsVirtual
}

// SignedAmount 带符号金额：收入为正，支出为负
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// ============================================================================
// 分类明细（类型化变体）
// ============================================================================

// TransactionDetails 按主分类选用的明细变体
type TransactionDetails interface {
	isTransactionDetails()
}

// MemberFeeDetails 会员费明细
type MemberFeeDetails struct {
	MemberID   int64
	FiscalYear int
}

// EventDetails 活动明细
type EventDetails struct {
	EventID int64
}

// GeneralDetails 一般科目明细（无外部引用）
type GeneralDetails struct{}

func (MemberFeeDetails) isTransactionDetails() {}
func (EventDetails) isTransactionDetails()     {}
func (GeneralDetails) isTransactionDetails()   {}

// Details 返回与主分类匹配的明细变体
//
// 会员费交易要求 MemberID+FiscalYear 齐全，活动交易要求 EventID，
// 缺失时返回错误而不是半成品明细。
func (t *Transaction) Details() (TransactionDetails, error) {
	switch t.Category {
	case CategoryMemberFees:
		if t.MemberID == nil || t.FiscalYear == nil {
			return nil, ErrMissingMemberRef
		}
		return MemberFeeDetails{MemberID: *t.MemberID, FiscalYear: *t.FiscalYear}, nil
	case CategoryEvent:
		if t.EventID == nil {
			return nil, ErrMissingEventRef
		}
		return EventDetails{EventID: *t.EventID}, nil
	default:
		return GeneralDetails{}, nil
	}
}
