package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"finledger/internal/config"
	"finledger/internal/model"
	"finledger/internal/repository"
)

// CategoryLedgerService 科目台账：按（科目，子科目）聚合全部收支。
// 会员费、活动交易同样计入各自科目，作为全口径视图。
type CategoryLedgerService struct {
	transactions repository.TransactionStore
	ledgers      repository.CategoryLedgerStore
	outbox       repository.OutboxStore
	cfg          *config.Config
}

func NewCategoryLedgerService(
	transactions repository.TransactionStore,
	ledgers repository.CategoryLedgerStore,
	outbox repository.OutboxStore,
	cfg *config.Config,
) *CategoryLedgerService {
	return &CategoryLedgerService{
		transactions: transactions,
		ledgers:      ledgers,
		outbox:       outbox,
		cfg:          cfg,
	}
}

func categoryKey(trans *model.Transaction) (category, subCategory string, ok bool) {
	if trans.Category == "" {
		return "", "", false
	}
	return trans.Category, trans.SubCategory, true
}

// Upsert 把一笔交易同步进科目台账，协议与会员费台账一致
func (s *CategoryLedgerService) Upsert(ctx context.Context, trans *model.Transaction) error {
	if trans.IsVirtual {
		return nil
	}

	linked, err := s.ledgers.GetByLinkedTransaction(ctx, trans.ID)
	if err != nil {
		return fmt.Errorf("反查科目台账失败: %w", err)
	}

	category, subCategory, ok := categoryKey(trans)

	if linked != nil {
		moved := !ok || linked.Category != category || linked.SubCategory != subCategory
		if moved {
			linked.UnlinkTransaction(trans.ID)
			if err := s.ledgers.Save(ctx, linked); err != nil {
				return fmt.Errorf("摘除旧科目台账链接失败: %w", err)
			}
			if err := s.Reconcile(ctx, linked.Category, linked.SubCategory); err != nil {
				return err
			}
			log.Printf("[CategoryLedger] 交易换键: transactionID=%d, 旧键=(%s,%s)",
				trans.ID, linked.Category, linked.SubCategory)
			linked = nil
		}
	}

	if !ok {
		return nil
	}

	record := linked
	if record == nil {
		record, err = s.ledgers.GetByKey(ctx, category, subCategory)
		if err != nil {
			return fmt.Errorf("查询科目台账失败: %w", err)
		}
	}

	if record == nil {
		record = &model.CategoryLedger{
			Category:    category,
			SubCategory: subCategory,
			LedgerTotals: model.LedgerTotals{
				Status: model.LedgerStatusActive,
			},
		}
		record.LinkTransaction(trans.ID, trans.Direction)
		if err := s.ledgers.Create(ctx, record); err != nil {
			return fmt.Errorf("创建科目台账失败: %w", err)
		}
	} else {
		record.LinkTransaction(trans.ID, trans.Direction)
		if err := s.ledgers.Save(ctx, record); err != nil {
			return fmt.Errorf("更新科目台账失败: %w", err)
		}
	}

	return s.Reconcile(ctx, category, subCategory)
}

// Reconcile 按科目键全量重算台账汇总
func (s *CategoryLedgerService) Reconcile(ctx context.Context, category, subCategory string) error {
	record, err := s.ledgers.GetByKey(ctx, category, subCategory)
	if err != nil {
		return fmt.Errorf("查询科目台账失败: %w", err)
	}
	if record == nil {
		log.Printf("[CategoryLedger] 台账不存在，跳过对账: category=%s, subCategory=%s", category, subCategory)
		return nil
	}

	transactions, err := s.transactions.Find(ctx, repository.TransactionFilter{
		Category:    category,
		SubCategory: &subCategory,
		OnlyReal:    true,
	})
	if err != nil {
		return fmt.Errorf("扫描科目交易失败: %w", err)
	}

	totals := computeLedgerTotals(transactions)
	applyTotals(&record.LedgerTotals, totals, time.Now())
	if err := s.ledgers.Save(ctx, record); err != nil {
		return fmt.Errorf("保存科目台账失败: %w", err)
	}

	emitReconciled(ctx, s.outbox, s.cfg, LedgerKindCategory, category+":"+subCategory, totals)
	return nil
}

// List 分页列出科目台账
func (s *CategoryLedgerService) List(ctx context.Context, limit, offset int) ([]*model.CategoryLedger, error) {
	return s.ledgers.List(ctx, limit, offset)
}
