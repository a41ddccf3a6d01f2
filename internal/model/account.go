package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountStatusActive = "ACTIVE"
	AccountStatusClosed = "CLOSED"
)

// Account 银行账户表
// 对账务核心而言是只读协作方，期初余额是余额推算的起点
type Account struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string          `gorm:"type:varchar(128);not null" json:"name"`
	BankName       string          `gorm:"type:varchar(128)" json:"bank_name"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"opening_balance"` // 期初余额
	Status         string          `gorm:"type:varchar(20);index;not null;default:ACTIVE" json:"status"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
