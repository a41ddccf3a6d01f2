package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"finledger/internal/config"
	"finledger/internal/model"
	"finledger/internal/repository"
	"finledger/pkg/idgen"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrVirtualReadOnly    = errors.New("虚拟子交易只能通过重新拆分调整")
	ErrInvalidDirection   = errors.New("交易方向必须是 INCOME 或 EXPENSE")
	ErrDirectionImmutable = errors.New("交易方向不允许修改，请作废后重新记账")
	ErrSplitAmountLocked  = errors.New("已拆分交易不能修改金额，请先取消拆分")
)

// RecordInput 记账入参
type RecordInput struct {
	AccountID     int64           `json:"account_id" binding:"required"`
	BookedAt      time.Time       `json:"booked_at" binding:"required"`
	Direction     string          `json:"direction" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	Category      string          `json:"category"`
	SubCategory   string          `json:"sub_category"`
	ClassCode     string          `json:"class_code"`
	Description   string          `json:"description"`
	PaymentMethod string          `json:"payment_method"`
	MemberID      *int64          `json:"member_id"`
	FiscalYear    *int            `json:"fiscal_year"`
	EventID       *int64          `json:"event_id"`
}

// UpdateInput 改账入参，nil 字段表示不改。账户和方向不在可改范围内。
type UpdateInput struct {
	BookedAt      *time.Time       `json:"booked_at"`
	Amount        *decimal.Decimal `json:"amount"`
	Description   *string          `json:"description"`
	PaymentMethod *string          `json:"payment_method"`
	ClassCode     *string          `json:"class_code"`
	Status        *string          `json:"status"`
	Direction     *string          `json:"direction"`
}

// ReclassifyInput 重新归类入参
type ReclassifyInput struct {
	Category    string `json:"category" binding:"required"`
	SubCategory string `json:"sub_category"`
	MemberID    *int64 `json:"member_id"`
	FiscalYear  *int   `json:"fiscal_year"`
	EventID     *int64 `json:"event_id"`
}

// TransactionDetail 交易详情，拆分交易附带虚拟子交易
type TransactionDetail struct {
	Transaction *model.Transaction   `json:"transaction"`
	Children    []*model.Transaction `json:"children,omitempty"`
}

// TransactionService 交易读写入口，写路径同事务落 outbox 事件
type TransactionService struct {
	uow        repository.UnitOfWork
	accounts   repository.AccountStore
	balance    BalanceInvalidator
	dispatcher LedgerDispatcher
	cfg        *config.Config
}

func NewTransactionService(
	uow repository.UnitOfWork,
	accounts repository.AccountStore,
	balance BalanceInvalidator,
	dispatcher LedgerDispatcher,
	cfg *config.Config,
) *TransactionService {
	return &TransactionService{
		uow:        uow,
		accounts:   accounts,
		balance:    balance,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Record 记一笔交易
//
// 会员费交易未指定财年时落到配置的当前财年。
func (s *TransactionService) Record(ctx context.Context, input *RecordInput) (*model.Transaction, error) {
	if input.Direction != model.DirectionIncome && input.Direction != model.DirectionExpense {
		return nil, ErrInvalidDirection
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if _, err := s.accounts.Get(ctx, input.AccountID); err != nil {
		return nil, err
	}

	fiscalYear := input.FiscalYear
	if input.Category == model.CategoryMemberFees {
		if input.MemberID == nil {
			return nil, model.ErrMissingMemberRef
		}
		if fiscalYear == nil {
			year := s.cfg.Ledger.FiscalYear
			fiscalYear = &year
		}
	}
	if input.Category == model.CategoryEvent && input.EventID == nil {
		return nil, model.ErrMissingEventRef
	}

	trans := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		AccountID:     input.AccountID,
		BookedAt:      input.BookedAt,
		Direction:     input.Direction,
		Amount:        input.Amount,
		Status:        model.TransactionStatusRecorded,
		Category:      input.Category,
		SubCategory:   input.SubCategory,
		ClassCode:     input.ClassCode,
		Description:   input.Description,
		PaymentMethod: input.PaymentMethod,
		MemberID:      input.MemberID,
		FiscalYear:    fiscalYear,
		EventID:       input.EventID,
	}

	err := s.uow.Do(ctx, func(uow repository.UnitOfWork) error {
		if err := uow.Transactions().Create(ctx, trans); err != nil {
			return fmt.Errorf("交易落库失败: %w", err)
		}
		return s.writeEvent(ctx, uow, model.EventTypeTransactionRecorded, trans, map[string]interface{}{
			"transaction_id": trans.ID,
			"account_id":     trans.AccountID,
			"direction":      trans.Direction,
			"amount":         trans.Amount,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[TransactionService] 记账成功: transactionNo=%s, accountID=%d, amount=%s",
		trans.TransactionNo, trans.AccountID, trans.Amount.String())

	s.afterWrite(ctx, trans)
	return trans, nil
}

// Update 修改交易基础字段
func (s *TransactionService) Update(ctx context.Context, transactionID int64, input *UpdateInput) (*model.Transaction, error) {
	trans, err := s.uow.Transactions().Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if trans.IsVirtual {
		return nil, ErrVirtualReadOnly
	}
	if input.Direction != nil && *input.Direction != trans.Direction {
		return nil, ErrDirectionImmutable
	}

	updates := map[string]interface{}{}
	if input.BookedAt != nil {
		updates["booked_at"] = *input.BookedAt
		trans.BookedAt = *input.BookedAt
	}
	if input.Amount != nil {
		if trans.IsSplit {
			return nil, ErrSplitAmountLocked
		}
		if input.Amount.LessThanOrEqual(decimal.Zero) {
			return nil, ErrInvalidAmount
		}
		updates["amount"] = *input.Amount
		trans.Amount = *input.Amount
	}
	if input.Description != nil {
		updates["description"] = *input.Description
		trans.Description = *input.Description
	}
	if input.PaymentMethod != nil {
		updates["payment_method"] = *input.PaymentMethod
		trans.PaymentMethod = *input.PaymentMethod
	}
	if input.ClassCode != nil {
		updates["class_code"] = *input.ClassCode
		trans.ClassCode = *input.ClassCode
	}
	if input.Status != nil {
		updates["status"] = *input.Status
		trans.Status = *input.Status
	}
	if len(updates) == 0 {
		return trans, nil
	}

	err = s.uow.Do(ctx, func(uow repository.UnitOfWork) error {
		if err := uow.Transactions().Update(ctx, transactionID, updates); err != nil {
			return err
		}
		return s.writeEvent(ctx, uow, model.EventTypeTransactionUpdated, trans, map[string]interface{}{
			"transaction_id": trans.ID,
			"account_id":     trans.AccountID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, trans)
	return trans, nil
}

// Reclassify 调整交易的科目归属
//
// 换科目等价于换台账分组键，台账联动会先把交易从旧台账摘除
// 并对旧键重新对账，再落到新键上。
func (s *TransactionService) Reclassify(ctx context.Context, transactionID int64, input *ReclassifyInput) (*model.Transaction, error) {
	trans, err := s.uow.Transactions().Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if trans.IsVirtual {
		return nil, ErrVirtualReadOnly
	}

	if input.Category == model.CategoryMemberFees && input.MemberID == nil {
		return nil, model.ErrMissingMemberRef
	}
	if input.Category == model.CategoryEvent && input.EventID == nil {
		return nil, model.ErrMissingEventRef
	}

	fiscalYear := input.FiscalYear
	if input.Category == model.CategoryMemberFees && fiscalYear == nil {
		year := s.cfg.Ledger.FiscalYear
		fiscalYear = &year
	}

	updates := map[string]interface{}{
		"category":     input.Category,
		"sub_category": input.SubCategory,
		"member_id":    input.MemberID,
		"fiscal_year":  fiscalYear,
		"event_id":     input.EventID,
	}
	trans.Category = input.Category
	trans.SubCategory = input.SubCategory
	trans.MemberID = input.MemberID
	trans.FiscalYear = fiscalYear
	trans.EventID = input.EventID

	err = s.uow.Do(ctx, func(uow repository.UnitOfWork) error {
		if err := uow.Transactions().Update(ctx, transactionID, updates); err != nil {
			return err
		}
		return s.writeEvent(ctx, uow, model.EventTypeTransactionUpdated, trans, map[string]interface{}{
			"transaction_id": trans.ID,
			"category":       trans.Category,
			"sub_category":   trans.SubCategory,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[TransactionService] 重新归类: transactionID=%d, category=%s, subCategory=%s",
		transactionID, input.Category, input.SubCategory)

	s.afterWrite(ctx, trans)
	return trans, nil
}

// Delete 删除交易，拆分父交易连同虚拟子交易一起删
func (s *TransactionService) Delete(ctx context.Context, transactionID int64) error {
	trans, err := s.uow.Transactions().Get(ctx, transactionID)
	if err != nil {
		return err
	}
	if trans.IsVirtual {
		return ErrVirtualReadOnly
	}

	err = s.uow.Do(ctx, func(uow repository.UnitOfWork) error {
		if trans.IsSplit {
			removed, err := uow.Transactions().DeleteChildren(ctx, transactionID)
			if err != nil {
				return fmt.Errorf("删除子交易失败: %w", err)
			}
			log.Printf("[TransactionService] 连带删除子交易: parentID=%d, count=%d", transactionID, removed)
		}
		if err := uow.Transactions().Delete(ctx, transactionID); err != nil {
			return err
		}
		return s.writeEvent(ctx, uow, model.EventTypeTransactionDeleted, trans, map[string]interface{}{
			"transaction_id": trans.ID,
			"account_id":     trans.AccountID,
		})
	})
	if err != nil {
		return err
	}

	s.afterWrite(ctx, trans)
	return nil
}

// Get 查单笔交易
func (s *TransactionService) Get(ctx context.Context, transactionID int64) (*model.Transaction, error) {
	return s.uow.Transactions().Get(ctx, transactionID)
}

// Detail 查交易详情，拆分交易附带子交易列表
func (s *TransactionService) Detail(ctx context.Context, transactionID int64) (*TransactionDetail, error) {
	trans, err := s.uow.Transactions().Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	detail := &TransactionDetail{Transaction: trans}
	if trans.IsSplit {
		children, err := s.uow.Transactions().ListChildren(ctx, transactionID)
		if err != nil {
			return nil, err
		}
		detail.Children = children
	}
	return detail, nil
}

// List 按过滤条件分页查交易，返回列表和总数
func (s *TransactionService) List(ctx context.Context, filter repository.TransactionFilter) ([]*model.Transaction, int64, error) {
	total, err := s.uow.Transactions().Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	transactions, err := s.uow.Transactions().Find(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return transactions, total, nil
}

func (s *TransactionService) writeEvent(ctx context.Context, uow repository.UnitOfWork, eventType string, trans *model.Transaction, payload map[string]interface{}) error {
	payloadBytes, _ := json.Marshal(payload)
	return uow.Outbox().Create(ctx, &model.OutboxMessage{
		MessageKey:    trans.TransactionNo,
		Topic:         s.cfg.Kafka.Topic.LedgerEvents,
		EventType:     eventType,
		CorrelationID: uuid.NewString(),
		Payload:       string(payloadBytes),
		Status:        model.OutboxStatusPending,
	})
}

// afterWrite 写路径收尾的派生动作，失败只记日志
func (s *TransactionService) afterWrite(ctx context.Context, trans *model.Transaction) {
	if s.balance != nil {
		if err := s.balance.InvalidateAccount(ctx, trans.AccountID); err != nil {
			log.Printf("[TransactionService] 余额缓存失效失败: accountID=%d, err=%v", trans.AccountID, err)
		}
	}
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, trans)
	}
}
