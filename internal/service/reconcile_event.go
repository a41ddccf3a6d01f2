package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"finledger/internal/config"
	"finledger/internal/model"
	"finledger/internal/repository"
)

// EventLedgerService 活动台账：按活动聚合收支，盈亏一目了然
type EventLedgerService struct {
	transactions repository.TransactionStore
	ledgers      repository.EventLedgerStore
	outbox       repository.OutboxStore
	cfg          *config.Config
}

func NewEventLedgerService(
	transactions repository.TransactionStore,
	ledgers repository.EventLedgerStore,
	outbox repository.OutboxStore,
	cfg *config.Config,
) *EventLedgerService {
	return &EventLedgerService{
		transactions: transactions,
		ledgers:      ledgers,
		outbox:       outbox,
		cfg:          cfg,
	}
}

func eventKey(trans *model.Transaction) (eventID int64, ok bool) {
	if trans.Category != model.CategoryEvent {
		return 0, false
	}
	if trans.EventID == nil {
		return 0, false
	}
	return *trans.EventID, true
}

// Upsert 把一笔交易同步进活动台账，协议与会员费台账一致
func (s *EventLedgerService) Upsert(ctx context.Context, trans *model.Transaction) error {
	if trans.IsVirtual {
		return nil
	}

	linked, err := s.ledgers.GetByLinkedTransaction(ctx, trans.ID)
	if err != nil {
		return fmt.Errorf("反查活动台账失败: %w", err)
	}

	eventID, ok := eventKey(trans)

	if linked != nil {
		moved := !ok || linked.EventID != eventID
		if moved {
			linked.UnlinkTransaction(trans.ID)
			if err := s.ledgers.Save(ctx, linked); err != nil {
				return fmt.Errorf("摘除旧活动台账链接失败: %w", err)
			}
			if err := s.Reconcile(ctx, linked.EventID); err != nil {
				return err
			}
			log.Printf("[EventLedger] 交易换键: transactionID=%d, 旧活动=%d", trans.ID, linked.EventID)
			linked = nil
		}
	}

	if !ok {
		return nil
	}

	record := linked
	if record == nil {
		record, err = s.ledgers.GetByKey(ctx, eventID)
		if err != nil {
			return fmt.Errorf("查询活动台账失败: %w", err)
		}
	}

	if record == nil {
		record = &model.EventLedger{
			EventID: eventID,
			LedgerTotals: model.LedgerTotals{
				Status: model.LedgerStatusActive,
			},
		}
		record.LinkTransaction(trans.ID, trans.Direction)
		if trans.Description != "" {
			record.EventName = trans.Description
		}
		if err := s.ledgers.Create(ctx, record); err != nil {
			return fmt.Errorf("创建活动台账失败: %w", err)
		}
	} else {
		record.LinkTransaction(trans.ID, trans.Direction)
		if record.EventName == "" && trans.Description != "" {
			record.EventName = trans.Description
		}
		if err := s.ledgers.Save(ctx, record); err != nil {
			return fmt.Errorf("更新活动台账失败: %w", err)
		}
	}

	return s.Reconcile(ctx, eventID)
}

// Reconcile 按活动全量重算台账汇总
func (s *EventLedgerService) Reconcile(ctx context.Context, eventID int64) error {
	record, err := s.ledgers.GetByKey(ctx, eventID)
	if err != nil {
		return fmt.Errorf("查询活动台账失败: %w", err)
	}
	if record == nil {
		log.Printf("[EventLedger] 台账不存在，跳过对账: eventID=%d", eventID)
		return nil
	}

	transactions, err := s.transactions.Find(ctx, repository.TransactionFilter{
		Category: model.CategoryEvent,
		EventID:  &eventID,
		OnlyReal: true,
	})
	if err != nil {
		return fmt.Errorf("扫描活动交易失败: %w", err)
	}

	totals := computeLedgerTotals(transactions)
	applyTotals(&record.LedgerTotals, totals, time.Now())
	if err := s.ledgers.Save(ctx, record); err != nil {
		return fmt.Errorf("保存活动台账失败: %w", err)
	}

	emitReconciled(ctx, s.outbox, s.cfg, LedgerKindEvent, strconv.FormatInt(eventID, 10), totals)
	return nil
}

// List 分页列出活动台账
func (s *EventLedgerService) List(ctx context.Context, limit, offset int) ([]*model.EventLedger, error) {
	return s.ledgers.List(ctx, limit, offset)
}
