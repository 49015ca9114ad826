package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBillingCycle(t *testing.T) {
	assert.Equal(t, 1, CycleMonthly.Months())
	assert.Equal(t, 3, CycleQuarterly.Months())
	assert.Equal(t, 12, CycleYearly.Months())
	assert.False(t, BillingCycle("WEEKLY").Valid())

	plan := &Plan{MonthlyPrice: 1500}
	assert.Equal(t, int64(18000), plan.PriceFor(CycleYearly))
}
