package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"finledger/internal/model"
	"finledger/internal/repository"

	"github.com/shopspring/decimal"
)

// TransferPair 一次内部转账的两端：一笔支出对一笔收入
type TransferPair struct {
	From       *model.Transaction `json:"from"` // 转出方（支出）
	To         *model.Transaction `json:"to"`   // 转入方（收入）
	Date       time.Time          `json:"date"`
	Amount     decimal.Decimal    `json:"amount"`
	Confidence float64            `json:"confidence"`
}

// TransferDetectResult 配对结果与剩余未配对的交易
type TransferDetectResult struct {
	Pairs            []TransferPair       `json:"pairs"`
	UnpairedExpenses []*model.Transaction `json:"unpaired_expenses"`
	UnpairedIncomes  []*model.Transaction `json:"unpaired_incomes"`
	// 未配对收支的差额绝对值，理想情况下为 0
	ImbalanceAmount decimal.Decimal `json:"imbalance_amount"`
}

// TransferService 内部转账配对检测
//
// 从标记为内部转账的交易里找出大概率属于同一次资金移动的
// 支出/收入对。存储的时间戳和业务日期之间可能有时区偏差，
// 所以每笔交易按 前一天/当天/后一天 三个候选日期分别进组，
// 组内按 (日期, 金额) 撮合。
//
// 配对状态是全局的：一笔交易最多出现在三个候选组里，但只允许
// 被消费一次，绝不重复计入两个配对。
type TransferService struct {
	transactions repository.TransactionStore
}

func NewTransferService(transactions repository.TransactionStore) *TransferService {
	return &TransferService{transactions: transactions}
}

// DetectPairs 检测内部转账配对，可选限定日期范围
//
// 同组内存在多个等价候选时取ID最小者（先到先得）。组键与组内候选均
// 按固定顺序遍历，同一份数据反复运行结果一致。
func (s *TransferService) DetectPairs(ctx context.Context, from, to *time.Time) (*TransferDetectResult, error) {
	transactions, err := s.transactions.Find(ctx, repository.TransactionFilter{
		ClassCode: model.ClassCodeInternalTransfer,
		OnlyReal:  true,
		DateFrom:  from,
		DateTo:    to,
	})
	if err != nil {
		return nil, fmt.Errorf("查询内部转账交易失败: %w", err)
	}

	// 按 (候选日期, 金额) 建组，一笔交易进三个组
	groups := make(map[string][]*model.Transaction)
	for _, trans := range transactions {
		for _, day := range candidateDates(trans.BookedAt) {
			key := groupKey(day, trans.Amount)
			groups[key] = append(groups[key], trans)
		}
	}

	groupKeys := make([]string, 0, len(groups))
	for key := range groups {
		groupKeys = append(groupKeys, key)
	}
	sort.Strings(groupKeys)

	paired := make(map[int64]bool)
	result := &TransferDetectResult{
		Pairs:           make([]TransferPair, 0),
		ImbalanceAmount: decimal.Zero,
	}

	for _, key := range groupKeys {
		candidates := groups[key]
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].ID < candidates[j].ID
		})

		for _, expense := range candidates {
			if expense.Direction != model.DirectionExpense || paired[expense.ID] {
				continue
			}
			for _, income := range candidates {
				if income.Direction != model.DirectionIncome || paired[income.ID] {
					continue
				}
				if income.ID == expense.ID || income.AccountID == expense.AccountID {
					continue
				}
				// 金额相等由组键保证，方向相反、账户不同即认定为一次转账
				paired[expense.ID] = true
				paired[income.ID] = true
				result.Pairs = append(result.Pairs, TransferPair{
					From:       expense,
					To:         income,
					Date:       dateOnly(expense.BookedAt),
					Amount:     expense.Amount,
					Confidence: 1.0,
				})
				break
			}
		}
	}

	// 剩下没配上的分方向归集，并统计差额
	sumIncome := decimal.Zero
	sumExpense := decimal.Zero
	for _, trans := range transactions {
		if paired[trans.ID] {
			continue
		}
		if trans.Direction == model.DirectionExpense {
			result.UnpairedExpenses = append(result.UnpairedExpenses, trans)
			sumExpense = sumExpense.Add(trans.Amount)
		} else {
			result.UnpairedIncomes = append(result.UnpairedIncomes, trans)
			sumIncome = sumIncome.Add(trans.Amount)
		}
	}
	result.ImbalanceAmount = sumIncome.Sub(sumExpense).Abs()

	log.Printf("[TransferService] 转账配对完成: candidates=%d, pairs=%d, unpairedExpense=%d, unpairedIncome=%d, imbalance=%s",
		len(transactions), len(result.Pairs), len(result.UnpairedExpenses), len(result.UnpairedIncomes), result.ImbalanceAmount)

	return result, nil
}

// candidateDates 交易日期的三天候选窗口，吸收时区造成的日期漂移
func candidateDates(bookedAt time.Time) [3]time.Time {
	day := dateOnly(bookedAt)
	return [3]time.Time{day.AddDate(0, 0, -1), day, day.AddDate(0, 0, 1)}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func groupKey(day time.Time, amount decimal.Decimal) string {
	return day.Format("2006-01-02") + "|" + amount.String()
}
