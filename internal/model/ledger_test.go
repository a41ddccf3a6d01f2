package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt64ListRoundTrip(t *testing.T) {
	list := Int64List{1, 2, 3}
	value, err := list.Value()
	require.NoError(t, err)
	assert.JSONEq(t, "[1,2,3]", string(value.([]byte)))

	var scanned Int64List
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, list, scanned)
}

func TestInt64ListScanEmpty(t *testing.T) {
	var list Int64List
	require.NoError(t, list.Scan(nil))
	assert.Empty(t, list)

	require.NoError(t, list.Scan([]byte("")))
	assert.Empty(t, list)
}

func TestInt64ListValueNilIsEmptyArray(t *testing.T) {
	var list Int64List
	value, err := list.Value()
	require.NoError(t, err)
	// 空列表序列化成 [] 而不是 null，JSON_CONTAINS 才能正常工作
	assert.Equal(t, "[]", string(value.([]byte)))
}

func TestLedgerTotalsLinking(t *testing.T) {
	totals := &LedgerTotals{}

	totals.LinkTransaction(1, DirectionIncome)
	totals.LinkTransaction(2, DirectionExpense)
	// 重复链接不产生重复条目
	totals.LinkTransaction(1, DirectionIncome)

	assert.Equal(t, Int64List{1}, totals.RevenueTransactionIDs)
	assert.Equal(t, Int64List{2}, totals.ExpenseTransactionIDs)
	assert.True(t, totals.ContainsTransaction(1))
	assert.True(t, totals.ContainsTransaction(2))
	assert.False(t, totals.ContainsTransaction(3))

	totals.UnlinkTransaction(1)
	assert.False(t, totals.ContainsTransaction(1))
	assert.Equal(t, Int64List{2}, totals.ExpenseTransactionIDs)
}
