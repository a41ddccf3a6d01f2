package service

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"time"

	"finledger/internal/config"
	"finledger/internal/model"
	"finledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 台账种类标识（对账锁、事件负载里使用）
const (
	LedgerKindMemberFee = "member_fee"
	LedgerKindEvent     = "event"
	LedgerKindCategory  = "category"
)

// MemberProfile 会员目录服务返回的展示信息
type MemberProfile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// MemberDirectory 会员目录服务（外部协作方）
// 只用于补全台账上的展示字段，解析失败不允许阻塞对账
type MemberDirectory interface {
	Resolve(ctx context.Context, memberID int64) (*MemberProfile, error)
}

// computedTotals 从交易集合重算出的台账汇总
type computedTotals struct {
	revenue    decimal.Decimal
	expense    decimal.Decimal
	count      int
	revenueIDs model.Int64List
	expenseIDs model.Int64List
}

// computeLedgerTotals 对一组（已按分组键过滤的）非虚拟交易重算汇总。
// ID 列表升序排列，保证对账结果逐字节可复现。
func computeLedgerTotals(transactions []*model.Transaction) computedTotals {
	totals := computedTotals{
		revenue:    decimal.Zero,
		expense:    decimal.Zero,
		revenueIDs: model.Int64List{},
		expenseIDs: model.Int64List{},
	}

	for _, trans := range transactions {
		if trans.IsVirtual {
			continue
		}
		totals.count++
		if trans.Direction == model.DirectionExpense {
			totals.expense = totals.expense.Add(trans.Amount)
			totals.expenseIDs = append(totals.expenseIDs, trans.ID)
		} else {
			totals.revenue = totals.revenue.Add(trans.Amount)
			totals.revenueIDs = append(totals.revenueIDs, trans.ID)
		}
	}

	sort.Slice(totals.revenueIDs, func(i, j int) bool { return totals.revenueIDs[i] < totals.revenueIDs[j] })
	sort.Slice(totals.expenseIDs, func(i, j int) bool { return totals.expenseIDs[i] < totals.expenseIDs[j] })
	return totals
}

// applyTotals 用重算结果整体覆盖缓存汇总（链接列表是替换，不是追加）
func applyTotals(target *model.LedgerTotals, totals computedTotals, reconciledAt time.Time) {
	target.TotalRevenue = totals.revenue
	target.TotalExpense = totals.expense
	target.NetIncome = totals.revenue.Sub(totals.expense)
	target.TransactionCount = totals.count
	target.RevenueTransactionIDs = totals.revenueIDs
	target.ExpenseTransactionIDs = totals.expenseIDs
	target.LastReconciledAt = &reconciledAt
}

// emitReconciled 对账完成事件，outbox 未接入时跳过
func emitReconciled(ctx context.Context, outbox repository.OutboxStore, cfg *config.Config, kind, key string, totals computedTotals) {
	if outbox == nil || cfg == nil {
		return
	}
	payloadBytes, _ := json.Marshal(map[string]interface{}{
		"ledger_kind":       kind,
		"ledger_key":        key,
		"total_revenue":     totals.revenue,
		"total_expense":     totals.expense,
		"transaction_count": totals.count,
	})
	msg := &model.OutboxMessage{
		MessageKey:    kind + ":" + key,
		Topic:         cfg.Kafka.Topic.LedgerEvents,
		EventType:     model.EventTypeLedgerReconciled,
		CorrelationID: uuid.NewString(),
		Payload:       string(payloadBytes),
		Status:        model.OutboxStatusPending,
	}
	if err := outbox.Create(ctx, msg); err != nil {
		log.Printf("[Reconcile] 对账事件落库失败: kind=%s, key=%s, err=%v", kind, key, err)
	}
}

// UpsertDispatcher 把一笔交易分发给三个台账服务做 Upsert。
//
// 台账是派生视图，允许短暂滞后：任何一路失败都只记日志，
// 不向交易写路径传播错误。
type UpsertDispatcher struct {
	memberFees *MemberFeeLedgerService
	events     *EventLedgerService
	categories *CategoryLedgerService
}

func NewUpsertDispatcher(memberFees *MemberFeeLedgerService, events *EventLedgerService, categories *CategoryLedgerService) *UpsertDispatcher {
	return &UpsertDispatcher{
		memberFees: memberFees,
		events:     events,
		categories: categories,
	}
}

func (d *UpsertDispatcher) Dispatch(ctx context.Context, trans *model.Transaction) {
	if err := d.memberFees.Upsert(ctx, trans); err != nil {
		log.Printf("[UpsertDispatcher] 会员费台账同步失败: transactionID=%d, err=%v", trans.ID, err)
	}
	if err := d.events.Upsert(ctx, trans); err != nil {
		log.Printf("[UpsertDispatcher] 活动台账同步失败: transactionID=%d, err=%v", trans.ID, err)
	}
	if err := d.categories.Upsert(ctx, trans); err != nil {
		log.Printf("[UpsertDispatcher] 科目台账同步失败: transactionID=%d, err=%v", trans.ID, err)
	}
}
