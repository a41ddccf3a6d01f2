package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"finledger/internal/config"
	"finledger/internal/model"
	"finledger/internal/repository"
	"finledger/pkg/idgen"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrParentVirtual    = errors.New("虚拟子交易不能再被拆分")
	ErrEmptyAllocations = errors.New("拆分明细不能为空")
	ErrInvalidAmount    = errors.New("拆分金额必须大于0")
	ErrOverAllocated    = errors.New("拆分金额合计不能超过原交易金额")
	ErrNotSplit         = errors.New("交易未被拆分")
)

// BalanceInvalidator 余额序列缓存失效入口
// 每个改动交易集合的操作（新增/更新/删除/拆分/撤销拆分）都必须调用，
// 漏调会导致余额算错，这是正确性问题而不是性能问题
type BalanceInvalidator interface {
	InvalidateAccount(ctx context.Context, accountID int64) error
}

// LedgerDispatcher 台账 Upsert 触发入口
// 失败只记日志，绝不让台账同步问题影响主交易操作
type LedgerDispatcher interface {
	Dispatch(ctx context.Context, trans *model.Transaction)
}

// Allocation 单条拆分明细
type Allocation struct {
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	SubCategory string          `json:"sub_category"`
	Notes       string          `json:"notes"`
	MemberID    *int64          `json:"member_id,omitempty"`
	FiscalYear  *int            `json:"fiscal_year,omitempty"`
	EventID     *int64          `json:"event_id,omitempty"`
}

// SplitResult 拆分结果：更新后的父交易 + 全部新建的虚拟子交易
type SplitResult struct {
	Parent   *model.Transaction   `json:"parent"`
	Children []*model.Transaction `json:"children"`
}

// BatchSplitItem 批量拆分的单条结果
type BatchSplitItem struct {
	TransactionID int64  `json:"transaction_id"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

// BatchSplitResult 批量拆分汇总
type BatchSplitResult struct {
	BatchNo   string           `json:"batch_no"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Items     []BatchSplitItem `json:"items"`
}

// SplitService 拆分/撤销拆分引擎
//
// 把一笔已记录的交易拆成多笔带分类的虚拟子交易。子交易全部是虚拟的，
// 不参与余额计算，所以拆分前后账户的真实资金流水不变。
// 删旧子交易、建新子交易、改父交易在同一个数据库事务内完成，
// 不留半拆分状态。
type SplitService struct {
	uow        repository.UnitOfWork
	balance    BalanceInvalidator
	dispatcher LedgerDispatcher
	cfg        *config.Config
}

func NewSplitService(uow repository.UnitOfWork, balance BalanceInvalidator, dispatcher LedgerDispatcher, cfg *config.Config) *SplitService {
	return &SplitService{
		uow:        uow,
		balance:    balance,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Split 拆分交易
//
// 已拆分的父交易允许重新拆分：旧的虚拟子交易先整体删除，再按新明细
// 重建，对调用方表现为原子替换。明细合计小于父交易金额时自动补一笔
// UNALLOCATED 子交易承载未分配余额。
func (s *SplitService) Split(ctx context.Context, parentID int64, allocations []Allocation) (*SplitResult, error) {
	if len(allocations) == 0 {
		return nil, ErrEmptyAllocations
	}

	total := decimal.Zero
	for _, alloc := range allocations {
		if alloc.Amount.LessThanOrEqual(decimal.Zero) {
			return nil, ErrInvalidAmount
		}
		total = total.Add(alloc.Amount)
	}

	parent, err := s.uow.Transactions().Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.IsVirtual {
		return nil, ErrParentVirtual
	}
	if total.GreaterThan(parent.Amount) {
		return nil, ErrOverAllocated
	}

	remainder := parent.Amount.Sub(total)
	children := make([]*model.Transaction, 0, len(allocations)+1)

	for _, alloc := range allocations {
		children = append(children, s.buildChild(parent, alloc))
	}
	if remainder.IsPositive() {
		children = append(children, s.buildChild(parent, Allocation{
			Amount:   remainder,
			Category: model.CategoryUnallocated,
			Notes:    "拆分未分配余额（系统自动生成）",
		}))
	}

	err = s.uow.Do(ctx, func(uow repository.UnitOfWork) error {
		txs := uow.Transactions()

		// 重新拆分：先清掉上一次的虚拟子交易
		if parent.IsSplit {
			if _, err := txs.DeleteChildren(ctx, parent.ID); err != nil {
				return fmt.Errorf("删除旧子交易失败: %w", err)
			}
		}

		for _, child := range children {
			if err := txs.Create(ctx, child); err != nil {
				return fmt.Errorf("创建子交易失败: %w", err)
			}
		}

		// 父交易主分类置空，强制对每笔子交易显式归类
		if err := txs.Update(ctx, parent.ID, map[string]interface{}{
			"is_split":           true,
			"split_count":        len(children),
			"allocated_amount":   total,
			"unallocated_amount": remainder,
			"category":           "",
		}); err != nil {
			return fmt.Errorf("更新父交易失败: %w", err)
		}

		return s.writeEvent(ctx, uow, model.EventTypeTransactionSplit, parent, map[string]interface{}{
			"parent_id":          parent.ID,
			"split_count":        len(children),
			"allocated_amount":   total,
			"unallocated_amount": remainder,
		})
	})
	if err != nil {
		return nil, err
	}

	parent.IsSplit = true
	parent.SplitCount = len(children)
	parent.AllocatedAmount = total
	parent.UnallocatedAmount = remainder
	parent.Category = ""

	s.afterMutation(ctx, parent)

	log.Printf("[SplitService] 拆分成功: parentID=%d, children=%d, allocated=%s, unallocated=%s",
		parent.ID, len(children), total, remainder)

	return &SplitResult{Parent: parent, Children: children}, nil
}

// Unsplit 撤销拆分
//
// 删除全部虚拟子交易并复位父交易的拆分字段。父交易的主分类不会恢复：
// 拆分时原分类已被销毁，调用方必须重新归类。
func (s *SplitService) Unsplit(ctx context.Context, parentID int64) (*model.Transaction, error) {
	parent, err := s.uow.Transactions().Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsSplit {
		return nil, ErrNotSplit
	}

	err = s.uow.Do(ctx, func(uow repository.UnitOfWork) error {
		txs := uow.Transactions()

		if _, err := txs.DeleteChildren(ctx, parent.ID); err != nil {
			return fmt.Errorf("删除子交易失败: %w", err)
		}

		if err := txs.Update(ctx, parent.ID, map[string]interface{}{
			"is_split":           false,
			"split_count":        0,
			"allocated_amount":   decimal.Zero,
			"unallocated_amount": decimal.Zero,
		}); err != nil {
			return fmt.Errorf("更新父交易失败: %w", err)
		}

		return s.writeEvent(ctx, uow, model.EventTypeTransactionUnsplit, parent, map[string]interface{}{
			"parent_id": parent.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	parent.IsSplit = false
	parent.SplitCount = 0
	parent.AllocatedAmount = decimal.Zero
	parent.UnallocatedAmount = decimal.Zero

	s.afterMutation(ctx, parent)

	log.Printf("[SplitService] 撤销拆分成功: parentID=%d", parent.ID)
	return parent, nil
}

// BatchSplit 批量拆分：对每个交易独立套用同一份拆分明细
// 单条失败不中断整批，逐条记录成败
func (s *SplitService) BatchSplit(ctx context.Context, transactionIDs []int64, allocations []Allocation) (*BatchSplitResult, error) {
	if len(transactionIDs) == 0 {
		return nil, errors.New("交易ID列表不能为空")
	}

	result := &BatchSplitResult{
		BatchNo: idgen.GenerateSplitBatchNo(),
		Items:   make([]BatchSplitItem, 0, len(transactionIDs)),
	}

	for _, id := range transactionIDs {
		item := BatchSplitItem{TransactionID: id}
		if _, err := s.Split(ctx, id, allocations); err != nil {
			item.Error = err.Error()
			result.Failed++
			log.Printf("[SplitService] 批量拆分单条失败: batchNo=%s, transactionID=%d, err=%v",
				result.BatchNo, id, err)
		} else {
			item.Success = true
			result.Succeeded++
		}
		result.Items = append(result.Items, item)
	}

	log.Printf("[SplitService] 批量拆分完成: batchNo=%s, succeeded=%d, failed=%d",
		result.BatchNo, result.Succeeded, result.Failed)
	return result, nil
}

func (s *SplitService) buildChild(parent *model.Transaction, alloc Allocation) *model.Transaction {
	description := parent.Description
	if alloc.Notes != "" {
		description = alloc.Notes
	}
	parentID := parent.ID
	return &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		AccountID:     parent.AccountID,
		BookedAt:      parent.BookedAt,
		Direction:     parent.Direction,
		Amount:        alloc.Amount,
		Status:        parent.Status,
		Category:      alloc.Category,
		SubCategory:   alloc.SubCategory,
		Description:   description,
		PaymentMethod: parent.PaymentMethod,
		MemberID:      alloc.MemberID,
		FiscalYear:    alloc.FiscalYear,
		EventID:       alloc.EventID,
		IsVirtual:     true,
		ParentID:      &parentID,
	}
}

func (s *SplitService) writeEvent(ctx context.Context, uow repository.UnitOfWork, eventType string, parent *model.Transaction, payload map[string]interface{}) error {
	payloadBytes, _ := json.Marshal(payload)
	return uow.Outbox().Create(ctx, &model.OutboxMessage{
		MessageKey:    parent.TransactionNo,
		Topic:         s.cfg.Kafka.Topic.LedgerEvents,
		EventType:     eventType,
		CorrelationID: uuid.NewString(),
		Payload:       string(payloadBytes),
		Status:        model.OutboxStatusPending,
	})
}

// afterMutation 拆分结构变化后的派生动作：余额缓存失效 + 台账联动。
// 两者都不允许反过来影响已提交的拆分结果，失败只记日志。
func (s *SplitService) afterMutation(ctx context.Context, parent *model.Transaction) {
	if s.balance != nil {
		if err := s.balance.InvalidateAccount(ctx, parent.AccountID); err != nil {
			log.Printf("[SplitService] 余额缓存失效失败: accountID=%d, err=%v", parent.AccountID, err)
		}
	}
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, parent)
	}
}
