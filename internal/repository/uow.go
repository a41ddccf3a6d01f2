package repository

import (
	"context"

	"gorm.io/gorm"
)

// UnitOfWork 把交易存储与 Outbox 存储绑定到同一个数据库事务。
//
// 拆分/撤销拆分这类多步写操作（删旧子交易、建新子交易、改父交易、落
// Outbox 事件）必须整体成功或整体失败，不允许留下半拆分状态；
// Do 的回调里拿到的 UnitOfWork 保证所有存储走同一事务会话。
type UnitOfWork interface {
	Transactions() TransactionStore
	Outbox() OutboxStore
	// Do 在一个数据库事务内执行 fn，fn 返回错误则整体回滚
	Do(ctx context.Context, fn func(uow UnitOfWork) error) error
}

type GormUnitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) *GormUnitOfWork {
	return &GormUnitOfWork{db: db}
}

func (u *GormUnitOfWork) Transactions() TransactionStore {
	return NewTransactionRepository(u.db)
}

func (u *GormUnitOfWork) Outbox() OutboxStore {
	return NewOutboxRepository(u.db)
}

func (u *GormUnitOfWork) Do(ctx context.Context, fn func(uow UnitOfWork) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormUnitOfWork{db: tx})
	})
}
