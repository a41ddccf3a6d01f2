package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 账务域事件类型
const (
	EventTypeTransactionRecorded = "TRANSACTION_RECORDED"
	EventTypeTransactionUpdated  = "TRANSACTION_UPDATED"
	EventTypeTransactionDeleted  = "TRANSACTION_DELETED"
	EventTypeTransactionSplit    = "TRANSACTION_SPLIT"
	EventTypeTransactionUnsplit  = "TRANSACTION_UNSPLIT"
	EventTypeLedgerReconciled    = "LEDGER_RECONCILED"
)

// OutboxMessage 事务性 Outbox 消息表
// 账务事件与交易写操作在同一个数据库事务内落库，再由后台任务投递到 Kafka
type OutboxMessage struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey    string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic         string    `gorm:"type:varchar(64);not null" json:"topic"`
	EventType     string    `gorm:"type:varchar(40);index;not null" json:"event_type"`
	CorrelationID string    `gorm:"type:varchar(36);index" json:"correlation_id"` // 同一次业务操作产生的事件共用
	Payload       string    `gorm:"type:text;not null" json:"payload"`
	Status        string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount    int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
