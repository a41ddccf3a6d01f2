package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedAmount(t *testing.T) {
	income := &Transaction{Direction: DirectionIncome, Amount: decimal.RequireFromString("100.00")}
	assert.True(t, income.SignedAmount().Equal(decimal.RequireFromString("100.00")))

	expense := &Transaction{Direction: DirectionExpense, Amount: decimal.RequireFromString("100.00")}
	assert.True(t, expense.SignedAmount().Equal(decimal.RequireFromString("-100.00")))
}

func TestIsReal(t *testing.T) {
	parentID := int64(1)
	assert.True(t, (&Transaction{}).IsReal())
	assert.False(t, (&Transaction{IsVirtual: true, ParentID: &parentID}).IsReal())
}

func TestDetailsVariants(t *testing.T) {
	memberID := int64(10)
	fiscalYear := 2026
	eventID := int64(5)

	memberFee := &Transaction{Category: CategoryMemberFees, MemberID: &memberID, FiscalYear: &fiscalYear}
	details, err := memberFee.Details()
	require.NoError(t, err)
	assert.Equal(t, MemberFeeDetails{MemberID: 10, FiscalYear: 2026}, details)

	event := &Transaction{Category: CategoryEvent, EventID: &eventID}
	details, err = event.Details()
	require.NoError(t, err)
	assert.Equal(t, EventDetails{EventID: 5}, details)

	general := &Transaction{Category: CategoryGeneral}
	details, err = general.Details()
	require.NoError(t, err)
	assert.Equal(t, GeneralDetails{}, details)
}

func TestDetailsRequireRefs(t *testing.T) {
	_, err := (&Transaction{Category: CategoryMemberFees}).Details()
	assert.ErrorIs(t, err, ErrMissingMemberRef)

	fiscalYear := 2026
	_, err = (&Transaction{Category: CategoryMemberFees, FiscalYear: &fiscalYear}).Details()
	assert.ErrorIs(t, err, ErrMissingMemberRef)

	_, err = (&Transaction{Category: CategoryEvent}).Details()
	assert.ErrorIs(t, err, ErrMissingEventRef)
}
