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

// MemberFeeLedgerService 会员费台账：按（会员，财年）聚合会费收支
type MemberFeeLedgerService struct {
	transactions repository.TransactionStore
	ledgers      repository.MemberFeeLedgerStore
	outbox       repository.OutboxStore
	members      MemberDirectory
	cfg          *config.Config
}

func NewMemberFeeLedgerService(
	transactions repository.TransactionStore,
	ledgers repository.MemberFeeLedgerStore,
	outbox repository.OutboxStore,
	members MemberDirectory,
	cfg *config.Config,
) *MemberFeeLedgerService {
	return &MemberFeeLedgerService{
		transactions: transactions,
		ledgers:      ledgers,
		outbox:       outbox,
		members:      members,
		cfg:          cfg,
	}
}

// memberFeeKey 提取分组键，交易不属于会员费台账时 ok=false
func memberFeeKey(trans *model.Transaction) (memberID int64, fiscalYear int, ok bool) {
	if trans.Category != model.CategoryMemberFees {
		return 0, 0, false
	}
	if trans.MemberID == nil || trans.FiscalYear == nil {
		return 0, 0, false
	}
	return *trans.MemberID, *trans.FiscalYear, true
}

// Upsert 把一笔交易同步进会员费台账。
//
// 先按交易 ID 反查已链接的台账：分组键变了（换会员、换财年、
// 改了分类）就先从旧台账摘除并对旧键对账，再落到新键上。
// 每次 Upsert 都以新键的全量对账收尾。
func (s *MemberFeeLedgerService) Upsert(ctx context.Context, trans *model.Transaction) error {
	if trans.IsVirtual {
		return nil
	}

	linked, err := s.ledgers.GetByLinkedTransaction(ctx, trans.ID)
	if err != nil {
		return fmt.Errorf("反查会员费台账失败: %w", err)
	}

	memberID, fiscalYear, ok := memberFeeKey(trans)

	if linked != nil {
		moved := !ok || linked.MemberID != memberID || linked.FiscalYear != fiscalYear
		if moved {
			linked.UnlinkTransaction(trans.ID)
			if err := s.ledgers.Save(ctx, linked); err != nil {
				return fmt.Errorf("摘除旧会员费台账链接失败: %w", err)
			}
			if err := s.Reconcile(ctx, linked.MemberID, linked.FiscalYear); err != nil {
				return err
			}
			log.Printf("[MemberFeeLedger] 交易换键: transactionID=%d, 旧键=(%d,%d)",
				trans.ID, linked.MemberID, linked.FiscalYear)
			linked = nil
		}
	}

	if !ok {
		return nil
	}

	record := linked
	if record == nil {
		record, err = s.ledgers.GetByKey(ctx, memberID, fiscalYear)
		if err != nil {
			return fmt.Errorf("查询会员费台账失败: %w", err)
		}
	}

	if record == nil {
		record = &model.MemberFeeLedger{
			MemberID:   memberID,
			FiscalYear: fiscalYear,
			LedgerTotals: model.LedgerTotals{
				Status: model.LedgerStatusActive,
			},
		}
		record.LinkTransaction(trans.ID, trans.Direction)
		s.enrich(ctx, record)
		if err := s.ledgers.Create(ctx, record); err != nil {
			return fmt.Errorf("创建会员费台账失败: %w", err)
		}
	} else {
		record.LinkTransaction(trans.ID, trans.Direction)
		s.enrich(ctx, record)
		if err := s.ledgers.Save(ctx, record); err != nil {
			return fmt.Errorf("更新会员费台账失败: %w", err)
		}
	}

	return s.Reconcile(ctx, memberID, fiscalYear)
}

// enrich 从会员目录补全姓名邮箱，目录不可用只记日志
func (s *MemberFeeLedgerService) enrich(ctx context.Context, record *model.MemberFeeLedger) {
	if s.members == nil {
		return
	}
	profile, err := s.members.Resolve(ctx, record.MemberID)
	if err != nil {
		log.Printf("[MemberFeeLedger] 会员目录查询失败: memberID=%d, err=%v", record.MemberID, err)
		return
	}
	record.MemberName = profile.Name
	record.MemberEmail = profile.Email
}

// Reconcile 按分组键全量重算台账汇总。
// 台账不存在时视为无事可做，不报错。
func (s *MemberFeeLedgerService) Reconcile(ctx context.Context, memberID int64, fiscalYear int) error {
	record, err := s.ledgers.GetByKey(ctx, memberID, fiscalYear)
	if err != nil {
		return fmt.Errorf("查询会员费台账失败: %w", err)
	}
	if record == nil {
		log.Printf("[MemberFeeLedger] 台账不存在，跳过对账: memberID=%d, fiscalYear=%d", memberID, fiscalYear)
		return nil
	}

	transactions, err := s.transactions.Find(ctx, repository.TransactionFilter{
		Category:   model.CategoryMemberFees,
		MemberID:   &memberID,
		FiscalYear: &fiscalYear,
		OnlyReal:   true,
	})
	if err != nil {
		return fmt.Errorf("扫描会员费交易失败: %w", err)
	}

	totals := computeLedgerTotals(transactions)
	applyTotals(&record.LedgerTotals, totals, time.Now())
	if err := s.ledgers.Save(ctx, record); err != nil {
		return fmt.Errorf("保存会员费台账失败: %w", err)
	}

	emitReconciled(ctx, s.outbox, s.cfg, LedgerKindMemberFee,
		fmt.Sprintf("%d:%d", memberID, fiscalYear), totals)
	return nil
}

// List 分页列出会员费台账
func (s *MemberFeeLedgerService) List(ctx context.Context, limit, offset int) ([]*model.MemberFeeLedger, error) {
	return s.ledgers.List(ctx, limit, offset)
}
