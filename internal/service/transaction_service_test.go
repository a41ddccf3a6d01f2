package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"finledger/internal/model"
	"finledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransactionFixture() (*TransactionService, *fakeUnitOfWork, *recordingInvalidator, *recordingDispatcher) {
	uow := newFakeUnitOfWork()
	accounts := newFakeAccountStore(&model.Account{
		ID:             1,
		Name:           "主账户",
		OpeningBalance: decimal.RequireFromString("1000.00"),
		Status:         model.AccountStatusActive,
	})
	invalidator := &recordingInvalidator{}
	dispatcher := &recordingDispatcher{}
	svc := NewTransactionService(uow, accounts, invalidator, dispatcher, testConfig())
	return svc, uow, invalidator, dispatcher
}

func TestRecordTransaction(t *testing.T) {
	svc, uow, invalidator, dispatcher := newTransactionFixture()

	trans, err := svc.Record(context.Background(), &RecordInput{
		AccountID:   1,
		BookedAt:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Direction:   model.DirectionIncome,
		Amount:      decimal.RequireFromString("200.00"),
		Category:    model.CategoryGeneral,
		SubCategory: "donations",
		Description: "捐赠收入",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(trans.TransactionNo, "TXN"))
	assert.Equal(t, model.TransactionStatusRecorded, trans.Status)
	assert.False(t, trans.IsVirtual)

	stored, err := uow.transactions.Get(context.Background(), trans.ID)
	require.NoError(t, err)
	assert.True(t, stored.Amount.Equal(decimal.RequireFromString("200.00")))

	// 记账事件与派生动作
	require.Len(t, uow.outbox.messages, 1)
	assert.Equal(t, model.EventTypeTransactionRecorded, uow.outbox.messages[0].EventType)
	assert.Equal(t, model.OutboxStatusPending, uow.outbox.messages[0].Status)
	assert.Equal(t, []int64{1}, invalidator.accountIDs)
	require.Len(t, dispatcher.dispatched, 1)
}

func TestRecordMemberFeeDefaultsFiscalYear(t *testing.T) {
	svc, _, _, _ := newTransactionFixture()

	trans, err := svc.Record(context.Background(), &RecordInput{
		AccountID: 1,
		BookedAt:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Direction: model.DirectionIncome,
		Amount:    decimal.RequireFromString("120.00"),
		Category:  model.CategoryMemberFees,
		MemberID:  int64Ptr(10),
	})
	require.NoError(t, err)
	require.NotNil(t, trans.FiscalYear)
	assert.Equal(t, 2026, *trans.FiscalYear)
}

func TestRecordValidation(t *testing.T) {
	svc, _, _, _ := newTransactionFixture()
	ctx := context.Background()
	base := RecordInput{
		AccountID: 1,
		BookedAt:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Direction: model.DirectionIncome,
		Amount:    decimal.RequireFromString("100.00"),
	}

	bad := base
	bad.Direction = "SIDEWAYS"
	_, err := svc.Record(ctx, &bad)
	assert.ErrorIs(t, err, ErrInvalidDirection)

	bad = base
	bad.Amount = decimal.Zero
	_, err = svc.Record(ctx, &bad)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	bad = base
	bad.AccountID = 404
	_, err = svc.Record(ctx, &bad)
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)

	bad = base
	bad.Category = model.CategoryMemberFees
	_, err = svc.Record(ctx, &bad)
	assert.ErrorIs(t, err, model.ErrMissingMemberRef)

	bad = base
	bad.Category = model.CategoryEvent
	_, err = svc.Record(ctx, &bad)
	assert.ErrorIs(t, err, model.ErrMissingEventRef)
}

func TestUpdateTransactionRejectsDirectionChange(t *testing.T) {
	svc, uow, _, _ := newTransactionFixture()
	trans := uow.transactions.seed(&model.Transaction{
		AccountID: 1,
		Direction: model.DirectionIncome,
		Amount:    decimal.RequireFromString("100.00"),
	})

	flipped := model.DirectionExpense
	_, err := svc.Update(context.Background(), trans.ID, &UpdateInput{Direction: &flipped})
	assert.ErrorIs(t, err, ErrDirectionImmutable)
}

func TestUpdateTransactionRejectsVirtualChild(t *testing.T) {
	svc, uow, _, _ := newTransactionFixture()
	parentID := int64(1)
	child := uow.transactions.seed(&model.Transaction{
		AccountID: 1,
		Direction: model.DirectionExpense,
		Amount:    decimal.RequireFromString("50.00"),
		IsVirtual: true,
		ParentID:  &parentID,
	})

	note := "改不了"
	_, err := svc.Update(context.Background(), child.ID, &UpdateInput{Description: &note})
	assert.ErrorIs(t, err, ErrVirtualReadOnly)

	err = svc.Delete(context.Background(), child.ID)
	assert.ErrorIs(t, err, ErrVirtualReadOnly)
}

func TestUpdateTransactionLocksAmountWhenSplit(t *testing.T) {
	svc, uow, _, _ := newTransactionFixture()
	trans := uow.transactions.seed(&model.Transaction{
		AccountID: 1,
		Direction: model.DirectionExpense,
		Amount:    decimal.RequireFromString("300.00"),
		IsSplit:   true,
	})

	amount := decimal.RequireFromString("400.00")
	_, err := svc.Update(context.Background(), trans.ID, &UpdateInput{Amount: &amount})
	assert.ErrorIs(t, err, ErrSplitAmountLocked)
}

func TestReclassifyTransaction(t *testing.T) {
	svc, uow, _, dispatcher := newTransactionFixture()
	trans := uow.transactions.seed(&model.Transaction{
		AccountID:   1,
		Direction:   model.DirectionIncome,
		Amount:      decimal.RequireFromString("120.00"),
		Category:    model.CategoryGeneral,
		SubCategory: "misc",
	})

	updated, err := svc.Reclassify(context.Background(), trans.ID, &ReclassifyInput{
		Category: model.CategoryMemberFees,
		MemberID: int64Ptr(10),
	})
	require.NoError(t, err)
	assert.Equal(t, model.CategoryMemberFees, updated.Category)
	require.NotNil(t, updated.FiscalYear)
	assert.Equal(t, 2026, *updated.FiscalYear)

	stored, err := uow.transactions.Get(context.Background(), trans.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryMemberFees, stored.Category)
	require.NotNil(t, stored.MemberID)
	assert.Equal(t, int64(10), *stored.MemberID)

	// 归类变化必须走台账联动
	require.Len(t, dispatcher.dispatched, 1)
	assert.Equal(t, trans.ID, dispatcher.dispatched[0].ID)
}

func TestReclassifyRequiresRefs(t *testing.T) {
	svc, uow, _, _ := newTransactionFixture()
	trans := uow.transactions.seed(&model.Transaction{
		AccountID: 1,
		Direction: model.DirectionIncome,
		Amount:    decimal.RequireFromString("120.00"),
	})

	_, err := svc.Reclassify(context.Background(), trans.ID, &ReclassifyInput{Category: model.CategoryMemberFees})
	assert.ErrorIs(t, err, model.ErrMissingMemberRef)

	_, err = svc.Reclassify(context.Background(), trans.ID, &ReclassifyInput{Category: model.CategoryEvent})
	assert.ErrorIs(t, err, model.ErrMissingEventRef)
}

func TestDeleteSplitParentRemovesChildren(t *testing.T) {
	svc, uow, _, _ := newTransactionFixture()
	parent := uow.transactions.seed(&model.Transaction{
		AccountID: 1,
		Direction: model.DirectionExpense,
		Amount:    decimal.RequireFromString("300.00"),
		IsSplit:   true,
	})
	parentID := parent.ID
	uow.transactions.seed(&model.Transaction{
		AccountID: 1,
		Direction: model.DirectionExpense,
		Amount:    decimal.RequireFromString("100.00"),
		IsVirtual: true,
		ParentID:  &parentID,
	})

	ctx := context.Background()
	require.NoError(t, svc.Delete(ctx, parent.ID))

	_, err := uow.transactions.Get(ctx, parent.ID)
	assert.ErrorIs(t, err, repository.ErrTransactionNotFound)
	children, err := uow.transactions.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	assert.Empty(t, children)

	require.Len(t, uow.outbox.messages, 1)
	assert.Equal(t, model.EventTypeTransactionDeleted, uow.outbox.messages[0].EventType)
}

func TestListTransactionsReturnsTotal(t *testing.T) {
	svc, uow, _, _ := newTransactionFixture()
	for day := 1; day <= 3; day++ {
		uow.transactions.seed(&model.Transaction{
			AccountID: 1,
			BookedAt:  time.Date(2026, 5, day, 0, 0, 0, 0, time.UTC),
			Direction: model.DirectionIncome,
			Amount:    decimal.RequireFromString("10.00"),
		})
	}

	transactions, total, err := svc.List(context.Background(), repository.TransactionFilter{
		AccountID: 1,
		Limit:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, transactions, 2)
}

func TestDetailIncludesChildren(t *testing.T) {
	svc, uow, _, _ := newTransactionFixture()
	parent := uow.transactions.seed(&model.Transaction{
		AccountID: 1,
		Direction: model.DirectionExpense,
		Amount:    decimal.RequireFromString("300.00"),
		IsSplit:   true,
	})
	parentID := parent.ID
	uow.transactions.seed(&model.Transaction{
		AccountID: 1,
		Direction: model.DirectionExpense,
		Amount:    decimal.RequireFromString("100.00"),
		IsVirtual: true,
		ParentID:  &parentID,
	})

	detail, err := svc.Detail(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, detail.Transaction.ID)
	require.Len(t, detail.Children, 1)
	assert.True(t, detail.Children[0].IsVirtual)
}
