package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"finledger/internal/config"
	"finledger/internal/model"
	"finledger/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

var (
	// ErrBalanceUnavailable 余额暂不可用：合并账户视图，或缓存序列与
	// 当前页对不上（并发修改导致的脏缓存）。宁可不显示也不显示错的数
	ErrBalanceUnavailable = errors.New("余额暂不可用")
)

const defaultBalanceCacheTTL = 5 * time.Minute

// sequenceEntry 全局参照序列的一项：交易ID + 带符号净额
type sequenceEntry struct {
	ID  int64           `json:"id"`
	Net decimal.Decimal `json:"net"`
}

// BalanceService 逐笔滚动余额计算
//
// 对单个账户，在调用方选定的排序下算出每笔真实交易之后的累计余额，
// 支持分页展示。算法以账户的期初余额为起点：
//
//  1. 取该账户全部真实交易按同一排序构成全局参照序列（缓存）
//  2. 定位当前页最后一行在参照序列中的位置
//  3. 页起点余额 = 期初余额 + 参照序列中该位置之后所有交易的净额
//  4. 页内从最后一行向第一行逐笔累加，得到每行的余额
//
// 虚拟子交易完全不参与累计，也不展示余额。
//
// 参照序列按 (账户, 排序字段, 排序方向) 缓存在 Redis；未配置 Redis 时
// 退化为进程内缓存。两种模式的失效契约相同。
type BalanceService struct {
	transactions repository.TransactionStore
	accounts     repository.AccountStore
	redisClient  *redis.Client
	cacheTTL     time.Duration

	mu    sync.RWMutex
	local map[string][]sequenceEntry
}

func NewBalanceService(transactions repository.TransactionStore, accounts repository.AccountStore, redisClient *redis.Client, cfg *config.Config) *BalanceService {
	ttl := defaultBalanceCacheTTL
	if cfg != nil && cfg.Ledger.BalanceCacheTTLSeconds > 0 {
		ttl = time.Duration(cfg.Ledger.BalanceCacheTTLSeconds) * time.Second
	}
	return &BalanceService{
		transactions: transactions,
		accounts:     accounts,
		redisClient:  redisClient,
		cacheTTL:     ttl,
		local:        make(map[string][]sequenceEntry),
	}
}

// RunningBalances 计算一页交易的逐笔余额，返回 交易ID -> 余额。
// 虚拟交易没有对应条目。accountID 为 0（合并视图）时余额无定义。
func (s *BalanceService) RunningBalances(ctx context.Context, accountID int64, pageTxs []*model.Transaction, sortField, sortOrder string) (map[int64]decimal.Decimal, error) {
	if accountID <= 0 {
		return nil, ErrBalanceUnavailable
	}

	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	balances := make(map[int64]decimal.Decimal, len(pageTxs))

	// 页尾最后一笔真实交易是与全局序列对齐的锚点
	boundary := -1
	for i := len(pageTxs) - 1; i >= 0; i-- {
		if pageTxs[i].IsReal() {
			boundary = i
			break
		}
	}
	if boundary < 0 {
		return balances, nil
	}

	sortField, sortOrder = normalizeSort(sortField, sortOrder)
	key := s.cacheKey(accountID, sortField, sortOrder)

	seq, err := s.sequence(ctx, key, accountID, sortField, sortOrder)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, entry := range seq {
		if entry.ID == pageTxs[boundary].ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// 缓存序列里找不到页尾交易：缓存已脏，失效后报不可用而不是算错
		if err := s.invalidateKey(ctx, key); err != nil {
			log.Printf("[BalanceService] 脏缓存失效失败: key=%s, err=%v", key, err)
		}
		return nil, ErrBalanceUnavailable
	}

	// 页起点余额：期初余额 + 序列中锚点之后（尚未消费掉的尾部）全部净额
	running := account.OpeningBalance
	for i := idx + 1; i < len(seq); i++ {
		running = running.Add(seq[i].Net)
	}

	// 页内从最后一行走向第一行，逐笔累加
	for i := boundary; i >= 0; i-- {
		trans := pageTxs[i]
		if trans.IsVirtual {
			continue
		}
		running = running.Add(trans.SignedAmount())
		balances[trans.ID] = running
	}

	return balances, nil
}

// CurrentBalance 账户当前余额 = 期初余额 + 全部真实交易净额
func (s *BalanceService) CurrentBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	transactions, err := s.transactions.Find(ctx, repository.TransactionFilter{
		AccountID: accountID,
		OnlyReal:  true,
	})
	if err != nil {
		return decimal.Zero, err
	}

	balance := account.OpeningBalance
	for _, trans := range transactions {
		balance = balance.Add(trans.SignedAmount())
	}
	return balance, nil
}

// InvalidateAccount 使账户的全部余额序列缓存失效
func (s *BalanceService) InvalidateAccount(ctx context.Context, accountID int64) error {
	prefix := fmt.Sprintf("balance:seq:%d:", accountID)

	s.mu.Lock()
	for key := range s.local {
		if strings.HasPrefix(key, prefix) {
			delete(s.local, key)
		}
	}
	s.mu.Unlock()

	if s.redisClient == nil {
		return nil
	}

	iter := s.redisClient.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return s.redisClient.Del(ctx, keys...).Err()
	}
	return nil
}

func (s *BalanceService) cacheKey(accountID int64, sortField, sortOrder string) string {
	return fmt.Sprintf("balance:seq:%d:%s:%s", accountID, sortField, sortOrder)
}

func (s *BalanceService) invalidateKey(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.local, key)
	s.mu.Unlock()

	if s.redisClient == nil {
		return nil
	}
	return s.redisClient.Del(ctx, key).Err()
}

// sequence 取全局参照序列，优先走缓存
func (s *BalanceService) sequence(ctx context.Context, key string, accountID int64, sortField, sortOrder string) ([]sequenceEntry, error) {
	if entries, ok := s.fromCache(ctx, key); ok {
		return entries, nil
	}

	transactions, err := s.transactions.Find(ctx, repository.TransactionFilter{
		AccountID: accountID,
		OnlyReal:  true,
		SortField: sortField,
		SortOrder: sortOrder,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]sequenceEntry, 0, len(transactions))
	for _, trans := range transactions {
		entries = append(entries, sequenceEntry{ID: trans.ID, Net: trans.SignedAmount()})
	}

	s.toCache(ctx, key, entries)
	return entries, nil
}

func (s *BalanceService) fromCache(ctx context.Context, key string) ([]sequenceEntry, bool) {
	if s.redisClient == nil {
		s.mu.RLock()
		entries, ok := s.local[key]
		s.mu.RUnlock()
		return entries, ok
	}

	data, err := s.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var entries []sequenceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Printf("[BalanceService] 缓存序列解析失败: key=%s, err=%v", key, err)
		return nil, false
	}
	return entries, true
}

func (s *BalanceService) toCache(ctx context.Context, key string, entries []sequenceEntry) {
	if s.redisClient == nil {
		s.mu.Lock()
		s.local[key] = entries
		s.mu.Unlock()
		return
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := s.redisClient.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
		log.Printf("[BalanceService] 缓存序列写入失败: key=%s, err=%v", key, err)
	}
}

func normalizeSort(sortField, sortOrder string) (string, string) {
	switch sortField {
	case "amount", "created_at":
	default:
		sortField = "booked_at"
	}
	if sortOrder == "ASC" {
		return sortField, "ASC"
	}
	return sortField, "DESC"
}
