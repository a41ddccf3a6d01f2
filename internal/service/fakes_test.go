package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"finledger/internal/config"
	"finledger/internal/model"
	"finledger/internal/repository"

	"github.com/shopspring/decimal"
)

// 内存版存储实现，行为对齐 MySQL 仓储：过滤、排序、分页、
// not-found 语义都保持一致，测试不连数据库。

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic.LedgerEvents = "finledger.ledger.events"
	cfg.Ledger.FiscalYear = 2026
	cfg.Ledger.BalanceCacheTTLSeconds = 300
	return cfg
}

type fakeTransactionStore struct {
	nextID       int64
	transactions map[int64]*model.Transaction
}

func newFakeTransactionStore() *fakeTransactionStore {
	return &fakeTransactionStore{
		nextID:       1,
		transactions: make(map[int64]*model.Transaction),
	}
}

func (s *fakeTransactionStore) seed(trans *model.Transaction) *model.Transaction {
	if trans.ID == 0 {
		trans.ID = s.nextID
	}
	if trans.ID >= s.nextID {
		s.nextID = trans.ID + 1
	}
	s.transactions[trans.ID] = trans
	return trans
}

func (s *fakeTransactionStore) Get(ctx context.Context, id int64) (*model.Transaction, error) {
	trans, ok := s.transactions[id]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	clone := *trans
	return &clone, nil
}

func matches(trans *model.Transaction, filter repository.TransactionFilter) bool {
	if filter.AccountID > 0 && trans.AccountID != filter.AccountID {
		return false
	}
	if filter.Category != "" && trans.Category != filter.Category {
		return false
	}
	if filter.SubCategory != nil && trans.SubCategory != *filter.SubCategory {
		return false
	}
	if filter.ClassCode != "" && trans.ClassCode != filter.ClassCode {
		return false
	}
	if filter.Direction != "" && trans.Direction != filter.Direction {
		return false
	}
	if filter.MemberID != nil && (trans.MemberID == nil || *trans.MemberID != *filter.MemberID) {
		return false
	}
	if filter.FiscalYear != nil && (trans.FiscalYear == nil || *trans.FiscalYear != *filter.FiscalYear) {
		return false
	}
	if filter.EventID != nil && (trans.EventID == nil || *trans.EventID != *filter.EventID) {
		return false
	}
	if filter.ParentID != nil && (trans.ParentID == nil || *trans.ParentID != *filter.ParentID) {
		return false
	}
	if filter.OnlyReal && trans.IsVirtual {
		return false
	}
	if filter.DateFrom != nil && trans.BookedAt.Before(*filter.DateFrom) {
		return false
	}
	if filter.DateTo != nil && trans.BookedAt.After(*filter.DateTo) {
		return false
	}
	return true
}

func (s *fakeTransactionStore) Find(ctx context.Context, filter repository.TransactionFilter) ([]*model.Transaction, error) {
	var result []*model.Transaction
	for _, trans := range s.transactions {
		if matches(trans, filter) {
			clone := *trans
			result = append(result, &clone)
		}
	}

	asc := filter.SortOrder == "ASC"
	sortField := filter.SortField
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		var less, equal bool
		switch sortField {
		case "amount":
			less = a.Amount.LessThan(b.Amount)
			equal = a.Amount.Equal(b.Amount)
		case "created_at":
			less = a.CreatedAt.Before(b.CreatedAt)
			equal = a.CreatedAt.Equal(b.CreatedAt)
		default:
			less = a.BookedAt.Before(b.BookedAt)
			equal = a.BookedAt.Equal(b.BookedAt)
		}
		if equal {
			if asc {
				return a.ID < b.ID
			}
			return a.ID > b.ID
		}
		if asc {
			return less
		}
		return !less
	})

	if filter.Limit > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(result) {
			end = len(result)
		}
		result = result[filter.Offset:end]
	}
	return result, nil
}

func (s *fakeTransactionStore) Count(ctx context.Context, filter repository.TransactionFilter) (int64, error) {
	var total int64
	for _, trans := range s.transactions {
		if matches(trans, filter) {
			total++
		}
	}
	return total, nil
}

func (s *fakeTransactionStore) Create(ctx context.Context, trans *model.Transaction) error {
	trans.ID = s.nextID
	s.nextID++
	trans.CreatedAt = time.Now()
	trans.UpdatedAt = time.Now()
	clone := *trans
	s.transactions[trans.ID] = &clone
	return nil
}

func (s *fakeTransactionStore) Update(ctx context.Context, id int64, fields map[string]interface{}) error {
	trans, ok := s.transactions[id]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	for key, value := range fields {
		switch key {
		case "booked_at":
			trans.BookedAt = value.(time.Time)
		case "amount":
			trans.Amount = value.(decimal.Decimal)
		case "status":
			trans.Status = value.(string)
		case "category":
			trans.Category = value.(string)
		case "sub_category":
			trans.SubCategory = value.(string)
		case "class_code":
			trans.ClassCode = value.(string)
		case "description":
			trans.Description = value.(string)
		case "payment_method":
			trans.PaymentMethod = value.(string)
		case "member_id":
			trans.MemberID, _ = value.(*int64)
		case "fiscal_year":
			trans.FiscalYear, _ = value.(*int)
		case "event_id":
			trans.EventID, _ = value.(*int64)
		case "is_split":
			trans.IsSplit = value.(bool)
		case "split_count":
			trans.SplitCount = value.(int)
		case "allocated_amount":
			trans.AllocatedAmount = value.(decimal.Decimal)
		case "unallocated_amount":
			trans.UnallocatedAmount = value.(decimal.Decimal)
		}
	}
	trans.UpdatedAt = time.Now()
	return nil
}

func (s *fakeTransactionStore) Delete(ctx context.Context, id int64) error {
	if _, ok := s.transactions[id]; !ok {
		return repository.ErrTransactionNotFound
	}
	delete(s.transactions, id)
	return nil
}

func (s *fakeTransactionStore) ListChildren(ctx context.Context, parentID int64) ([]*model.Transaction, error) {
	return s.Find(ctx, repository.TransactionFilter{ParentID: &parentID, SortOrder: "ASC"})
}

func (s *fakeTransactionStore) DeleteChildren(ctx context.Context, parentID int64) (int64, error) {
	var removed int64
	for id, trans := range s.transactions {
		if trans.ParentID != nil && *trans.ParentID == parentID {
			delete(s.transactions, id)
			removed++
		}
	}
	return removed, nil
}

type fakeOutboxStore struct {
	messages []*model.OutboxMessage
}

func (s *fakeOutboxStore) Create(ctx context.Context, msg *model.OutboxMessage) error {
	msg.ID = int64(len(s.messages) + 1)
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeOutboxStore) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var pending []*model.OutboxMessage
	for _, msg := range s.messages {
		if msg.Status == model.OutboxStatusPending {
			pending = append(pending, msg)
		}
		if len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

func (s *fakeOutboxStore) UpdateStatus(ctx context.Context, id int64, status string) error {
	for _, msg := range s.messages {
		if msg.ID == id {
			msg.Status = status
		}
	}
	return nil
}

func (s *fakeOutboxStore) IncrementRetryCount(ctx context.Context, id int64) error {
	for _, msg := range s.messages {
		if msg.ID == id {
			msg.RetryCount++
		}
	}
	return nil
}

func (s *fakeOutboxStore) MarkAsFailed(ctx context.Context, id int64) error {
	return s.UpdateStatus(ctx, id, model.OutboxStatusFailed)
}

// fakeUnitOfWork 不做真事务，Do 直接执行回调
type fakeUnitOfWork struct {
	transactions *fakeTransactionStore
	outbox       *fakeOutboxStore
}

func newFakeUnitOfWork() *fakeUnitOfWork {
	return &fakeUnitOfWork{
		transactions: newFakeTransactionStore(),
		outbox:       &fakeOutboxStore{},
	}
}

func (u *fakeUnitOfWork) Transactions() repository.TransactionStore { return u.transactions }
func (u *fakeUnitOfWork) Outbox() repository.OutboxStore            { return u.outbox }
func (u *fakeUnitOfWork) Do(ctx context.Context, fn func(uow repository.UnitOfWork) error) error {
	return fn(u)
}

type fakeAccountStore struct {
	accounts map[int64]*model.Account
}

func newFakeAccountStore(accounts ...*model.Account) *fakeAccountStore {
	s := &fakeAccountStore{accounts: make(map[int64]*model.Account)}
	for _, account := range accounts {
		s.accounts[account.ID] = account
	}
	return s
}

func (s *fakeAccountStore) Get(ctx context.Context, id int64) (*model.Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return account, nil
}

func (s *fakeAccountStore) List(ctx context.Context) ([]*model.Account, error) {
	var result []*model.Account
	for _, account := range s.accounts {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

type fakeMemberFeeLedgerStore struct {
	nextID  int64
	records []*model.MemberFeeLedger
}

func (s *fakeMemberFeeLedgerStore) GetByKey(ctx context.Context, memberID int64, fiscalYear int) (*model.MemberFeeLedger, error) {
	for _, record := range s.records {
		if record.MemberID == memberID && record.FiscalYear == fiscalYear {
			return record, nil
		}
	}
	return nil, nil
}

func (s *fakeMemberFeeLedgerStore) GetByLinkedTransaction(ctx context.Context, transactionID int64) (*model.MemberFeeLedger, error) {
	for _, record := range s.records {
		if record.ContainsTransaction(transactionID) {
			return record, nil
		}
	}
	return nil, nil
}

func (s *fakeMemberFeeLedgerStore) Create(ctx context.Context, ledger *model.MemberFeeLedger) error {
	s.nextID++
	ledger.ID = s.nextID
	s.records = append(s.records, ledger)
	return nil
}

func (s *fakeMemberFeeLedgerStore) Save(ctx context.Context, ledger *model.MemberFeeLedger) error {
	for i, record := range s.records {
		if record.ID == ledger.ID {
			s.records[i] = ledger
			return nil
		}
	}
	s.records = append(s.records, ledger)
	return nil
}

func (s *fakeMemberFeeLedgerStore) List(ctx context.Context, limit, offset int) ([]*model.MemberFeeLedger, error) {
	if offset >= len(s.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	return s.records[offset:end], nil
}

type fakeEventLedgerStore struct {
	nextID  int64
	records []*model.EventLedger
}

func (s *fakeEventLedgerStore) GetByKey(ctx context.Context, eventID int64) (*model.EventLedger, error) {
	for _, record := range s.records {
		if record.EventID == eventID {
			return record, nil
		}
	}
	return nil, nil
}

func (s *fakeEventLedgerStore) GetByLinkedTransaction(ctx context.Context, transactionID int64) (*model.EventLedger, error) {
	for _, record := range s.records {
		if record.ContainsTransaction(transactionID) {
			return record, nil
		}
	}
	return nil, nil
}

func (s *fakeEventLedgerStore) Create(ctx context.Context, ledger *model.EventLedger) error {
	s.nextID++
	ledger.ID = s.nextID
	s.records = append(s.records, ledger)
	return nil
}

func (s *fakeEventLedgerStore) Save(ctx context.Context, ledger *model.EventLedger) error {
	for i, record := range s.records {
		if record.ID == ledger.ID {
			s.records[i] = ledger
			return nil
		}
	}
	s.records = append(s.records, ledger)
	return nil
}

func (s *fakeEventLedgerStore) List(ctx context.Context, limit, offset int) ([]*model.EventLedger, error) {
	if offset >= len(s.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	return s.records[offset:end], nil
}

type fakeCategoryLedgerStore struct {
	nextID  int64
	records []*model.CategoryLedger
}

func (s *fakeCategoryLedgerStore) GetByKey(ctx context.Context, category, subCategory string) (*model.CategoryLedger, error) {
	for _, record := range s.records {
		if record.Category == category && record.SubCategory == subCategory {
			return record, nil
		}
	}
	return nil, nil
}

func (s *fakeCategoryLedgerStore) GetByLinkedTransaction(ctx context.Context, transactionID int64) (*model.CategoryLedger, error) {
	for _, record := range s.records {
		if record.ContainsTransaction(transactionID) {
			return record, nil
		}
	}
	return nil, nil
}

func (s *fakeCategoryLedgerStore) Create(ctx context.Context, ledger *model.CategoryLedger) error {
	s.nextID++
	ledger.ID = s.nextID
	s.records = append(s.records, ledger)
	return nil
}

func (s *fakeCategoryLedgerStore) Save(ctx context.Context, ledger *model.CategoryLedger) error {
	for i, record := range s.records {
		if record.ID == ledger.ID {
			s.records[i] = ledger
			return nil
		}
	}
	s.records = append(s.records, ledger)
	return nil
}

func (s *fakeCategoryLedgerStore) List(ctx context.Context, limit, offset int) ([]*model.CategoryLedger, error) {
	if offset >= len(s.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	return s.records[offset:end], nil
}

// recordingInvalidator 记录被失效的账户，断言写路径触发了缓存失效
type recordingInvalidator struct {
	accountIDs []int64
}

func (r *recordingInvalidator) InvalidateAccount(ctx context.Context, accountID int64) error {
	r.accountIDs = append(r.accountIDs, accountID)
	return nil
}

// recordingDispatcher 记录被分发的交易，断言写路径触发了台账联动
type recordingDispatcher struct {
	dispatched []*model.Transaction
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, trans *model.Transaction) {
	r.dispatched = append(r.dispatched, trans)
}

type fakeMemberDirectory struct {
	profiles map[int64]*MemberProfile
}

func (d *fakeMemberDirectory) Resolve(ctx context.Context, memberID int64) (*MemberProfile, error) {
	profile, ok := d.profiles[memberID]
	if !ok {
		return nil, errors.New("会员不存在")
	}
	return profile, nil
}
