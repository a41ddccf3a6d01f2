package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	LedgerStatusActive   = "ACTIVE"
	LedgerStatusArchived = "ARCHIVED"
)

// Int64List 以 JSON 数组存储的交易ID列表
type Int64List []int64

func (l Int64List) Value() (driver.Value, error) {
	if l == nil {
		l = Int64List{}
	}
	return json.Marshal(l)
}

func (l *Int64List) Scan(value interface{}) error {
	if value == nil {
		*l = Int64List{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("Int64List 不支持的列类型: %T", value)
	}
	if len(data) == 0 {
		*l = Int64List{}
		return nil
	}
	return json.Unmarshal(data, l)
}

// Contains 列表中是否含有指定ID
func (l Int64List) Contains(id int64) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

// Remove 移除指定ID，返回移除后的列表
func (l Int64List) Remove(id int64) Int64List {
	out := make(Int64List, 0, len(l))
	for _, v := range l {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// ============================================================================
// 汇总台账
// ============================================================================

// LedgerTotals 三类汇总台账共用的缓存汇总字段
//
// 缓存汇总只是反范式化的加速产物，交易表才是唯一事实来源：
// 任何时刻全量对账（Reconcile）都必须能从交易表重算出同样的数字。
type LedgerTotals struct {
	TotalRevenue     decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"total_revenue"`
	TotalExpense     decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"total_expense"`
	NetIncome        decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"net_income"` // = revenue - expense
	TransactionCount int             `gorm:"not null;default:0" json:"transaction_count"`

	// 当前计入汇总的交易ID集合（收入/支出各一份）
	RevenueTransactionIDs Int64List `gorm:"type:json" json:"revenue_transaction_ids"`
	ExpenseTransactionIDs Int64List `gorm:"type:json" json:"expense_transaction_ids"`

	Status           string     `gorm:"type:varchar(20);index;not null;default:ACTIVE" json:"status"`
	LastReconciledAt *time.Time `json:"last_reconciled_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ContainsTransaction 交易是否已计入任一链接列表
func (t *LedgerTotals) ContainsTransaction(id int64) bool {
	return t.RevenueTransactionIDs.Contains(id) || t.ExpenseTransactionIDs.Contains(id)
}

// LinkTransaction 按方向把交易ID计入链接列表（已存在则不重复）
func (t *LedgerTotals) LinkTransaction(id int64, direction string) {
	if t.ContainsTransaction(id) {
		return
	}
	if direction == DirectionExpense {
		t.ExpenseTransactionIDs = append(t.ExpenseTransactionIDs, id)
	} else {
		t.RevenueTransactionIDs = append(t.RevenueTransactionIDs, id)
	}
}

// UnlinkTransaction 从两份链接列表中移除交易ID
func (t *LedgerTotals) UnlinkTransaction(id int64) {
	t.RevenueTransactionIDs = t.RevenueTransactionIDs.Remove(id)
	t.ExpenseTransactionIDs = t.ExpenseTransactionIDs.Remove(id)
}

// MemberFeeLedger 会员费台账，分组键 (member_id, fiscal_year)
type MemberFeeLedger struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	MemberID    int64  `gorm:"not null;uniqueIndex:idx_member_fiscal_year,priority:1" json:"member_id"`
	FiscalYear  int    `gorm:"not null;uniqueIndex:idx_member_fiscal_year,priority:2" json:"fiscal_year"`
	MemberName  string `gorm:"type:varchar(128)" json:"member_name"`  // 来自会员目录服务的展示字段
	MemberEmail string `gorm:"type:varchar(128)" json:"member_email"` // 同上，补全失败不影响对账
	LedgerTotals
}

func (MemberFeeLedger) TableName() string {
	return "member_fee_ledger"
}

// EventLedger 活动台账，分组键 event_id
type EventLedger struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID   int64  `gorm:"not null;uniqueIndex" json:"event_id"`
	EventName string `gorm:"type:varchar(128)" json:"event_name"` // 取首笔链接交易的摘要
	LedgerTotals
}

func (EventLedger) TableName() string {
	return "event_ledger"
}

// CategoryLedger 一般科目台账，分组键 (category, sub_category)
type CategoryLedger struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Category    string `gorm:"type:varchar(32);not null;uniqueIndex:idx_category_sub,priority:1" json:"category"`
	SubCategory string `gorm:"type:varchar(64);not null;uniqueIndex:idx_category_sub,priority:2" json:"sub_category"`
	LedgerTotals
}

func (CategoryLedger) TableName() string {
	return "category_ledger"
}
