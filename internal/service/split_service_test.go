package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"finledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSplitFixture() (*SplitService, *fakeUnitOfWork, *recordingInvalidator, *recordingDispatcher) {
	uow := newFakeUnitOfWork()
	invalidator := &recordingInvalidator{}
	dispatcher := &recordingDispatcher{}
	svc := NewSplitService(uow, invalidator, dispatcher, testConfig())
	return svc, uow, invalidator, dispatcher
}

func seedParent(uow *fakeUnitOfWork, amount string) *model.Transaction {
	return uow.transactions.seed(&model.Transaction{
		TransactionNo: "TXN20260101000000001",
		AccountID:     1,
		BookedAt:      time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Direction:     model.DirectionExpense,
		Amount:        decimal.RequireFromString(amount),
		Status:        model.TransactionStatusRecorded,
		Category:      model.CategoryGeneral,
		Description:   "办公用品采购",
		PaymentMethod: "BANK_TRANSFER",
	})
}

func TestSplitCreatesRemainderChild(t *testing.T) {
	svc, uow, invalidator, dispatcher := newSplitFixture()
	parent := seedParent(uow, "300.00")
	eventID := int64(7)

	result, err := svc.Split(context.Background(), parent.ID, []Allocation{
		{Amount: decimal.RequireFromString("100.00"), Category: model.CategoryEvent, EventID: &eventID},
		{Amount: decimal.RequireFromString("150.00"), Category: model.CategoryGeneral, SubCategory: "printing"},
	})
	require.NoError(t, err)
	require.Len(t, result.Children, 3)

	// 子交易金额总和等于父交易金额
	sum := decimal.Zero
	for _, child := range result.Children {
		sum = sum.Add(child.Amount)
		assert.True(t, child.IsVirtual)
		require.NotNil(t, child.ParentID)
		assert.Equal(t, parent.ID, *child.ParentID)
		assert.Equal(t, parent.AccountID, child.AccountID)
		assert.Equal(t, parent.Direction, child.Direction)
		assert.True(t, child.BookedAt.Equal(parent.BookedAt))
	}
	assert.True(t, sum.Equal(decimal.RequireFromString("300.00")))

	remainder := result.Children[2]
	assert.Equal(t, model.CategoryUnallocated, remainder.Category)
	assert.True(t, remainder.Amount.Equal(decimal.RequireFromString("50.00")))

	stored, err := uow.transactions.Get(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSplit)
	assert.Equal(t, 3, stored.SplitCount)
	assert.True(t, stored.AllocatedAmount.Equal(decimal.RequireFromString("250.00")))
	assert.True(t, stored.UnallocatedAmount.Equal(decimal.RequireFromString("50.00")))
	assert.Equal(t, "", stored.Category)

	// 拆分事件与派生动作
	require.Len(t, uow.outbox.messages, 1)
	assert.Equal(t, model.EventTypeTransactionSplit, uow.outbox.messages[0].EventType)
	assert.Equal(t, []int64{parent.AccountID}, invalidator.accountIDs)
	require.Len(t, dispatcher.dispatched, 1)
	assert.Equal(t, parent.ID, dispatcher.dispatched[0].ID)
}

func TestSplitExactAllocationHasNoRemainder(t *testing.T) {
	svc, uow, _, _ := newSplitFixture()
	parent := seedParent(uow, "200.00")

	result, err := svc.Split(context.Background(), parent.ID, []Allocation{
		{Amount: decimal.RequireFromString("120.00"), Category: model.CategoryGeneral, SubCategory: "rent"},
		{Amount: decimal.RequireFromString("80.00"), Category: model.CategoryGeneral, SubCategory: "utilities"},
	})
	require.NoError(t, err)
	require.Len(t, result.Children, 2)
	for _, child := range result.Children {
		assert.NotEqual(t, model.CategoryUnallocated, child.Category)
	}
}

func TestSplitRejectsOverAllocation(t *testing.T) {
	svc, uow, _, _ := newSplitFixture()
	parent := seedParent(uow, "100.00")

	_, err := svc.Split(context.Background(), parent.ID, []Allocation{
		{Amount: decimal.RequireFromString("60.00"), Category: model.CategoryGeneral},
		{Amount: decimal.RequireFromString("60.00"), Category: model.CategoryGeneral},
	})
	assert.ErrorIs(t, err, ErrOverAllocated)

	// 失败不落任何子交易
	children, listErr := uow.transactions.ListChildren(context.Background(), parent.ID)
	require.NoError(t, listErr)
	assert.Empty(t, children)
}

func TestSplitRejectsVirtualParent(t *testing.T) {
	svc, uow, _, _ := newSplitFixture()
	parentID := int64(99)
	child := uow.transactions.seed(&model.Transaction{
		AccountID: 1,
		Direction: model.DirectionExpense,
		Amount:    decimal.RequireFromString("50.00"),
		IsVirtual: true,
		ParentID:  &parentID,
	})

	_, err := svc.Split(context.Background(), child.ID, []Allocation{
		{Amount: decimal.RequireFromString("10.00"), Category: model.CategoryGeneral},
	})
	assert.ErrorIs(t, err, ErrParentVirtual)
}

func TestSplitValidatesAllocations(t *testing.T) {
	svc, uow, _, _ := newSplitFixture()
	parent := seedParent(uow, "100.00")

	_, err := svc.Split(context.Background(), parent.ID, nil)
	assert.ErrorIs(t, err, ErrEmptyAllocations)

	_, err = svc.Split(context.Background(), parent.ID, []Allocation{
		{Amount: decimal.Zero, Category: model.CategoryGeneral},
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestResplitReplacesChildren(t *testing.T) {
	svc, uow, _, _ := newSplitFixture()
	parent := seedParent(uow, "300.00")
	ctx := context.Background()

	_, err := svc.Split(ctx, parent.ID, []Allocation{
		{Amount: decimal.RequireFromString("100.00"), Category: model.CategoryGeneral, SubCategory: "a"},
	})
	require.NoError(t, err)

	result, err := svc.Split(ctx, parent.ID, []Allocation{
		{Amount: decimal.RequireFromString("200.00"), Category: model.CategoryGeneral, SubCategory: "b"},
		{Amount: decimal.RequireFromString("100.00"), Category: model.CategoryGeneral, SubCategory: "c"},
	})
	require.NoError(t, err)
	require.Len(t, result.Children, 2)

	// 旧子交易整体被替换
	children, err := uow.transactions.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	sum := decimal.Zero
	for _, child := range children {
		assert.NotEqual(t, "a", child.SubCategory)
		sum = sum.Add(child.Amount)
	}
	assert.True(t, sum.Equal(parent.Amount))
}

func TestUnsplitRemovesChildrenWithoutRestoringCategory(t *testing.T) {
	svc, uow, _, _ := newSplitFixture()
	parent := seedParent(uow, "300.00")
	ctx := context.Background()

	_, err := svc.Split(ctx, parent.ID, []Allocation{
		{Amount: decimal.RequireFromString("100.00"), Category: model.CategoryGeneral},
	})
	require.NoError(t, err)

	restored, err := svc.Unsplit(ctx, parent.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsSplit)
	assert.Equal(t, 0, restored.SplitCount)
	assert.True(t, restored.AllocatedAmount.IsZero())
	assert.True(t, restored.UnallocatedAmount.IsZero())
	// 原主分类不恢复，需要调用方重新归类
	assert.Equal(t, "", restored.Category)

	children, err := uow.transactions.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestUnsplitRequiresSplitParent(t *testing.T) {
	svc, uow, _, _ := newSplitFixture()
	parent := seedParent(uow, "100.00")

	_, err := svc.Unsplit(context.Background(), parent.ID)
	assert.ErrorIs(t, err, ErrNotSplit)
}

func TestBatchSplitIsolatesFailures(t *testing.T) {
	svc, uow, _, _ := newSplitFixture()
	good := seedParent(uow, "100.00")

	result, err := svc.BatchSplit(context.Background(), []int64{good.ID, 12345}, []Allocation{
		{Amount: decimal.RequireFromString("40.00"), Category: model.CategoryGeneral},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.BatchNo, "SPL"))
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Items, 2)
	assert.True(t, result.Items[0].Success)
	assert.False(t, result.Items[1].Success)
	assert.NotEmpty(t, result.Items[1].Error)

	// 成功的那笔照常生效
	stored, err := uow.transactions.Get(context.Background(), good.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSplit)
}
