package repository

import (
	"context"
	"errors"
	"time"

	"finledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound = errors.New("交易不存在")
)

// 余额/列表查询允许的排序字段，调用方传入的字段名做白名单映射
var sortableColumns = map[string]string{
	"booked_at":  "booked_at",
	"amount":     "amount",
	"created_at": "created_at",
}

// TransactionFilter 等值过滤条件，零值字段不参与过滤
type TransactionFilter struct {
	AccountID   int64
	Category    string
	SubCategory *string // 指针区分"不过滤"与"= 空串"
	ClassCode   string
	Direction   string
	MemberID    *int64
	FiscalYear  *int
	EventID     *int64
	ParentID    *int64
	OnlyReal    bool // 只要真实交易（排除虚拟子交易）
	DateFrom    *time.Time
	DateTo      *time.Time
	SortField   string // 见 sortableColumns，默认 booked_at
	SortOrder   string // ASC / DESC，默认 DESC
	Limit       int
	Offset      int
}

// TransactionStore 交易存储接口
// 账务核心只依赖这组点查/等值扫描/增删改原语（外部协作方约定）
type TransactionStore interface {
	Get(ctx context.Context, id int64) (*model.Transaction, error)
	Find(ctx context.Context, filter TransactionFilter) ([]*model.Transaction, error)
	Count(ctx context.Context, filter TransactionFilter) (int64, error)
	Create(ctx context.Context, trans *model.Transaction) error
	Update(ctx context.Context, id int64, fields map[string]interface{}) error
	Delete(ctx context.Context, id int64) error
	ListChildren(ctx context.Context, parentID int64) ([]*model.Transaction, error)
	DeleteChildren(ctx context.Context, parentID int64) (int64, error)
}

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Get(ctx context.Context, id int64) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) applyFilter(ctx context.Context, filter TransactionFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&model.Transaction{})

	if filter.AccountID > 0 {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.SubCategory != nil {
		query = query.Where("sub_category = ?", *filter.SubCategory)
	}
	if filter.ClassCode != "" {
		query = query.Where("class_code = ?", filter.ClassCode)
	}
	if filter.Direction != "" {
		query = query.Where("direction = ?", filter.Direction)
	}
	if filter.MemberID != nil {
		query = query.Where("member_id = ?", *filter.MemberID)
	}
	if filter.FiscalYear != nil {
		query = query.Where("fiscal_year = ?", *filter.FiscalYear)
	}
	if filter.EventID != nil {
		query = query.Where("event_id = ?", *filter.EventID)
	}
	if filter.ParentID != nil {
		query = query.Where("parent_id = ?", *filter.ParentID)
	}
	if filter.OnlyReal {
		query = query.Where("is_virtual = ?", false)
	}
	if filter.DateFrom != nil {
		query = query.Where("booked_at >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("booked_at <= ?", *filter.DateTo)
	}

	return query
}

func (r *TransactionRepository) Find(ctx context.Context, filter TransactionFilter) ([]*model.Transaction, error) {
	query := r.applyFilter(ctx, filter)

	column, ok := sortableColumns[filter.SortField]
	if !ok {
		column = "booked_at"
	}
	order := "DESC"
	if filter.SortOrder == "ASC" {
		order = "ASC"
	}
	// 排序字段相同时按ID再排一次，保证分页顺序稳定
	query = query.Order(column + " " + order).Order("id " + order)

	if filter.Limit > 0 {
		query = query.Offset(filter.Offset).Limit(filter.Limit)
	}

	var transactions []*model.Transaction
	err := query.Find(&transactions).Error
	return transactions, err
}

func (r *TransactionRepository) Count(ctx context.Context, filter TransactionFilter) (int64, error) {
	var total int64
	err := r.applyFilter(ctx, filter).Count(&total).Error
	return total, err
}

func (r *TransactionRepository) Create(ctx context.Context, trans *model.Transaction) error {
	return r.db.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) Update(ctx context.Context, id int64, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *TransactionRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Transaction{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *TransactionRepository) ListChildren(ctx context.Context, parentID int64) ([]*model.Transaction, error) {
	var children []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("id ASC").
		Find(&children).Error
	return children, err
}

func (r *TransactionRepository) DeleteChildren(ctx context.Context, parentID int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Delete(&model.Transaction{})
	return result.RowsAffected, result.Error
}
