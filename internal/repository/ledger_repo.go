package repository

import (
	"context"
	"errors"
	"strconv"

	"finledger/internal/model"

	"gorm.io/gorm"
)

// 三类汇总台账的存储接口。GetBy* 查不到时返回 (nil, nil)：
// 台账记录在首笔交易链接时才创建，"不存在"是常态而不是错误。
//
// GetByLinkedTransaction 是 Upsert 协议的第一优先查找：交易可能正在从
// 一个分组键迁往另一个，必须先找到此前挂着它的那条台账。
// 链接列表以 JSON 数组落库，用 MySQL JSON_CONTAINS 做反查。

type MemberFeeLedgerStore interface {
	GetByKey(ctx context.Context, memberID int64, fiscalYear int) (*model.MemberFeeLedger, error)
	GetByLinkedTransaction(ctx context.Context, transactionID int64) (*model.MemberFeeLedger, error)
	Create(ctx context.Context, ledger *model.MemberFeeLedger) error
	Save(ctx context.Context, ledger *model.MemberFeeLedger) error
	List(ctx context.Context, limit, offset int) ([]*model.MemberFeeLedger, error)
}

type EventLedgerStore interface {
	GetByKey(ctx context.Context, eventID int64) (*model.EventLedger, error)
	GetByLinkedTransaction(ctx context.Context, transactionID int64) (*model.EventLedger, error)
	Create(ctx context.Context, ledger *model.EventLedger) error
	Save(ctx context.Context, ledger *model.EventLedger) error
	List(ctx context.Context, limit, offset int) ([]*model.EventLedger, error)
}

type CategoryLedgerStore interface {
	GetByKey(ctx context.Context, category, subCategory string) (*model.CategoryLedger, error)
	GetByLinkedTransaction(ctx context.Context, transactionID int64) (*model.CategoryLedger, error)
	Create(ctx context.Context, ledger *model.CategoryLedger) error
	Save(ctx context.Context, ledger *model.CategoryLedger) error
	List(ctx context.Context, limit, offset int) ([]*model.CategoryLedger, error)
}

// linkedTransactionCond JSON_CONTAINS 反查条件
const linkedTransactionCond = "JSON_CONTAINS(revenue_transaction_ids, ?) OR JSON_CONTAINS(expense_transaction_ids, ?)"

func linkedArg(transactionID int64) string {
	return strconv.FormatInt(transactionID, 10)
}

// ============================================================================
// 会员费台账
// ============================================================================

type MemberFeeLedgerRepository struct {
	db *gorm.DB
}

func NewMemberFeeLedgerRepository(db *gorm.DB) *MemberFeeLedgerRepository {
	return &MemberFeeLedgerRepository{db: db}
}

func (r *MemberFeeLedgerRepository) GetByKey(ctx context.Context, memberID int64, fiscalYear int) (*model.MemberFeeLedger, error) {
	var ledger model.MemberFeeLedger
	err := r.db.WithContext(ctx).
		Where("member_id = ? AND fiscal_year = ?", memberID, fiscalYear).
		First(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger, nil
}

func (r *MemberFeeLedgerRepository) GetByLinkedTransaction(ctx context.Context, transactionID int64) (*model.MemberFeeLedger, error) {
	var ledger model.MemberFeeLedger
	arg := linkedArg(transactionID)
	err := r.db.WithContext(ctx).
		Where(linkedTransactionCond, arg, arg).
		First(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger, nil
}

func (r *MemberFeeLedgerRepository) Create(ctx context.Context, ledger *model.MemberFeeLedger) error {
	return r.db.WithContext(ctx).Create(ledger).Error
}

func (r *MemberFeeLedgerRepository) Save(ctx context.Context, ledger *model.MemberFeeLedger) error {
	return r.db.WithContext(ctx).Save(ledger).Error
}

func (r *MemberFeeLedgerRepository) List(ctx context.Context, limit, offset int) ([]*model.MemberFeeLedger, error) {
	var ledgers []*model.MemberFeeLedger
	err := r.db.WithContext(ctx).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&ledgers).Error
	return ledgers, err
}

// ============================================================================
// 活动台账
// ============================================================================

type EventLedgerRepository struct {
	db *gorm.DB
}

func NewEventLedgerRepository(db *gorm.DB) *EventLedgerRepository {
	return &EventLedgerRepository{db: db}
}

func (r *EventLedgerRepository) GetByKey(ctx context.Context, eventID int64) (*model.EventLedger, error) {
	var ledger model.EventLedger
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger, nil
}

func (r *EventLedgerRepository) GetByLinkedTransaction(ctx context.Context, transactionID int64) (*model.EventLedger, error) {
	var ledger model.EventLedger
	arg := linkedArg(transactionID)
	err := r.db.WithContext(ctx).
		Where(linkedTransactionCond, arg, arg).
		First(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger, nil
}

func (r *EventLedgerRepository) Create(ctx context.Context, ledger *model.EventLedger) error {
	return r.db.WithContext(ctx).Create(ledger).Error
}

func (r *EventLedgerRepository) Save(ctx context.Context, ledger *model.EventLedger) error {
	return r.db.WithContext(ctx).Save(ledger).Error
}

func (r *EventLedgerRepository) List(ctx context.Context, limit, offset int) ([]*model.EventLedger, error) {
	var ledgers []*model.EventLedger
	err := r.db.WithContext(ctx).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&ledgers).Error
	return ledgers, err
}

// ============================================================================
// 一般科目台账
// ============================================================================

type CategoryLedgerRepository struct {
	db *gorm.DB
}

func NewCategoryLedgerRepository(db *gorm.DB) *CategoryLedgerRepository {
	return &CategoryLedgerRepository{db: db}
}

func (r *CategoryLedgerRepository) GetByKey(ctx context.Context, category, subCategory string) (*model.CategoryLedger, error) {
	var ledger model.CategoryLedger
	err := r.db.WithContext(ctx).
		Where("category = ? AND sub_category = ?", category, subCategory).
		First(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger, nil
}

func (r *CategoryLedgerRepository) GetByLinkedTransaction(ctx context.Context, transactionID int64) (*model.CategoryLedger, error) {
	var ledger model.CategoryLedger
	arg := linkedArg(transactionID)
	err := r.db.WithContext(ctx).
		Where(linkedTransactionCond, arg, arg).
		First(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger, nil
}

func (r *CategoryLedgerRepository) Create(ctx context.Context, ledger *model.CategoryLedger) error {
	return r.db.WithContext(ctx).Create(ledger).Error
}

func (r *CategoryLedgerRepository) Save(ctx context.Context, ledger *model.CategoryLedger) error {
	return r.db.WithContext(ctx).Save(ledger).Error
}

func (r *CategoryLedgerRepository) List(ctx context.Context, limit, offset int) ([]*model.CategoryLedger, error) {
	var ledgers []*model.CategoryLedger
	err := r.db.WithContext(ctx).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&ledgers).Error
	return ledgers, err
}
