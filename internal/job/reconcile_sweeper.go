package job

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"finledger/internal/config"
	"finledger/internal/infrastructure/lock"
	"finledger/internal/repository"
	"finledger/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ReconcileSweeper 兜底对账任务
//
// 台账联动失败时只记日志，台账可能短暂偏离真实交易。
// 本任务周期性扫一遍三类台账并逐条重算，把偏差收敛回来。
// 每个分组键对账前先抢分布式锁，抢不到说明刚有人对过，直接跳过。
type ReconcileSweeper struct {
	memberFeeLedgers repository.MemberFeeLedgerStore
	eventLedgers     repository.EventLedgerStore
	categoryLedgers  repository.CategoryLedgerStore
	memberFees       *service.MemberFeeLedgerService
	events           *service.EventLedgerService
	categories       *service.CategoryLedgerService
	redisClient      *redis.Client
	cfg              *config.Config
	stopCh           chan struct{}
	interval         time.Duration
	batchSize        int
}

func NewReconcileSweeper(
	memberFeeLedgers repository.MemberFeeLedgerStore,
	eventLedgers repository.EventLedgerStore,
	categoryLedgers repository.CategoryLedgerStore,
	memberFees *service.MemberFeeLedgerService,
	events *service.EventLedgerService,
	categories *service.CategoryLedgerService,
	redisClient *redis.Client,
	cfg *config.Config,
) *ReconcileSweeper {
	interval := time.Duration(cfg.Ledger.ReconcileSweepSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReconcileSweeper{
		memberFeeLedgers: memberFeeLedgers,
		eventLedgers:     eventLedgers,
		categoryLedgers:  categoryLedgers,
		memberFees:       memberFees,
		events:           events,
		categories:       categories,
		redisClient:      redisClient,
		cfg:              cfg,
		stopCh:           make(chan struct{}),
		interval:         interval,
		batchSize:        100,
	}
}

func (j *ReconcileSweeper) Start(ctx context.Context) {
	log.Println("[ReconcileSweeper] 兜底对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ReconcileSweeper] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ReconcileSweeper] 任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *ReconcileSweeper) Stop() {
	close(j.stopCh)
}

func (j *ReconcileSweeper) sweep(ctx context.Context) {
	j.sweepMemberFees(ctx)
	j.sweepEvents(ctx)
	j.sweepCategories(ctx)
}

func (j *ReconcileSweeper) sweepMemberFees(ctx context.Context) {
	for offset := 0; ; offset += j.batchSize {
		records, err := j.memberFeeLedgers.List(ctx, j.batchSize, offset)
		if err != nil {
			log.Printf("[ReconcileSweeper] 扫描会员费台账失败: %v", err)
			return
		}
		for _, record := range records {
			key := fmt.Sprintf("%d:%d", record.MemberID, record.FiscalYear)
			j.withLock(ctx, service.LedgerKindMemberFee, key, func() error {
				return j.memberFees.Reconcile(ctx, record.MemberID, record.FiscalYear)
			})
		}
		if len(records) < j.batchSize {
			return
		}
	}
}

func (j *ReconcileSweeper) sweepEvents(ctx context.Context) {
	for offset := 0; ; offset += j.batchSize {
		records, err := j.eventLedgers.List(ctx, j.batchSize, offset)
		if err != nil {
			log.Printf("[ReconcileSweeper] 扫描活动台账失败: %v", err)
			return
		}
		for _, record := range records {
			key := strconv.FormatInt(record.EventID, 10)
			j.withLock(ctx, service.LedgerKindEvent, key, func() error {
				return j.events.Reconcile(ctx, record.EventID)
			})
		}
		if len(records) < j.batchSize {
			return
		}
	}
}

func (j *ReconcileSweeper) sweepCategories(ctx context.Context) {
	for offset := 0; ; offset += j.batchSize {
		records, err := j.categoryLedgers.List(ctx, j.batchSize, offset)
		if err != nil {
			log.Printf("[ReconcileSweeper] 扫描科目台账失败: %v", err)
			return
		}
		for _, record := range records {
			key := record.Category + ":" + record.SubCategory
			j.withLock(ctx, service.LedgerKindCategory, key, func() error {
				return j.categories.Reconcile(ctx, record.Category, record.SubCategory)
			})
		}
		if len(records) < j.batchSize {
			return
		}
	}
}

// withLock 抢到去抖锁才执行对账，锁被占视为近期已对过账
func (j *ReconcileSweeper) withLock(ctx context.Context, kind, key string, reconcile func() error) {
	if j.redisClient != nil {
		expiration := time.Duration(j.cfg.Ledger.ReconcileDebounceSeconds) * time.Second
		if expiration <= 0 {
			expiration = 30 * time.Second
		}
		reconcileLock := lock.NewReconcileLock(j.redisClient, kind, key, uuid.NewString(), expiration)
		ok, err := reconcileLock.TryLock(ctx)
		if err != nil {
			log.Printf("[ReconcileSweeper] 获取对账锁失败: kind=%s, key=%s, err=%v", kind, key, err)
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := reconcileLock.Unlock(ctx); err != nil {
				log.Printf("[ReconcileSweeper] 释放对账锁失败: kind=%s, key=%s, err=%v", kind, key, err)
			}
		}()
	}

	if err := reconcile(); err != nil {
		log.Printf("[ReconcileSweeper] 对账失败: kind=%s, key=%s, err=%v", kind, key, err)
	}
}
