package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeReferralStats(t *testing.T) {
	referrals := []Referral{
		{ID: "r1", ReferredID: "u1"},
		{ID: "r2", ReferredID: "u2"},
	}
	transactions := []ReferralTransaction{
		{ReferralID: "r1", Amount: 100, Status: TransactionPaid},
		{ReferralID: "r2", Amount: 50, Status: TransactionPending},
	}
	active := map[string]bool{"u1": true}

	first := ComputeReferralStats(referrals, transactions, active)
	assert.Equal(t, ReferralStats{TotalReferrals: 2, ActiveReferrals: 1, TotalEarnings: 100, PendingEarnings: 50}, first)

	reversed := []ReferralTransaction{transactions[1], transactions[0]}
	assert.Equal(t, first, ComputeReferralStats(referrals, reversed, active))
	assert.Equal(t, first, ComputeReferralStats(referrals, transactions, active))
}
