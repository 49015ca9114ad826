package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestMailItem_DisplayStatus(t *testing.T) {
	statuses := []MailStatus{StatusReceived, StatusScanned, StatusProcessed, StatusForwarded, StatusShredded}

	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			item := &MailItem{Status: status}
			assert.NotEqual(t, DisplayArchived, item.DisplayStatus())

			item.IsArchived = true
			assert.Equal(t, DisplayArchived, item.DisplayStatus())
		})
	}
}

func TestMailStatus_CanRequest(t *testing.T) {
	tests := []struct {
		status  MailStatus
		action  ActionType
		allowed bool
	}{
		{StatusReceived, ActionScan, true},
		{StatusScanned, ActionScan, true},
		{StatusProcessed, ActionScan, true},
		{StatusReceived, ActionForward, false},
		{StatusReceived, ActionShred, false},
		{StatusScanned, ActionForward, true},
		{StatusProcessed, ActionShred, true},
		{StatusForwarded, ActionScan, false},
		{StatusForwarded, ActionShred, false},
		{StatusShredded, ActionScan, false},
		{StatusShredded, ActionForward, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status)+"_"+string(tt.action), func(t *testing.T) {
			err := tt.status.CanRequest(tt.action)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestMailStatus_Apply(t *testing.T) {
	next, err := StatusReceived.Apply(ActionScan)
	require.NoError(t, err)
	assert.Equal(t, StatusScanned, next)

	next, err = StatusProcessed.Apply(ActionScan)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, next)

	next, err = StatusScanned.Apply(ActionForward)
	require.NoError(t, err)
	assert.Equal(t, StatusForwarded, next)

	next, err = StatusProcessed.Apply(ActionShred)
	require.NoError(t, err)
	assert.Equal(t, StatusShredded, next)

	_, err = StatusShredded.Apply(ActionScan)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestMailStatus_MarkProcessed(t *testing.T) {
	next, err := StatusScanned.MarkProcessed()
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, next)

	next, err = StatusProcessed.MarkProcessed()
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, next)

	_, err = StatusReceived.MarkProcessed()
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestMailScope(t *testing.T) {
	assert.Error(t, MailScope{}.Validate())
	assert.Error(t, MailScope{ProfileID: "p1", BusinessAccountID: "b1"}.Validate())
	assert.NoError(t, PersonalScope("p1").Validate())
	assert.NoError(t, BusinessScope("b1").Validate())

	personal := &MailItem{OwnerID: strPtr("p1")}
	business := &MailItem{BusinessAccountID: strPtr("b1")}

	assert.True(t, PersonalScope("p1").Contains(personal))
	assert.False(t, PersonalScope("p2").Contains(personal))
	assert.False(t, PersonalScope("p1").Contains(business))
	assert.True(t, BusinessScope("b1").Contains(business))
	assert.False(t, BusinessScope("b1").Contains(personal))
}

func TestMailFilter_Matches(t *testing.T) {
	item := &MailItem{
		Sender:     "Internal Revenue Service",
		Subject:    "Tax Notice",
		Status:     StatusScanned,
		Tags:       []string{"tax"},
		ReceivedAt: time.Now(),
	}

	t.Run("搜索发件人与主题不区分大小写", func(t *testing.T) {
		assert.True(t, MailFilter{SearchText: "revenue"}.Matches(item))
		assert.True(t, MailFilter{SearchText: "NOTICE"}.Matches(item))
		assert.False(t, MailFilter{SearchText: "invoice"}.Matches(item))
	})

	t.Run("状态过滤", func(t *testing.T) {
		assert.True(t, MailFilter{StatusFilter: "all"}.Matches(item))
		assert.True(t, MailFilter{StatusFilter: "SCANNED"}.Matches(item))
		assert.False(t, MailFilter{StatusFilter: "RECEIVED"}.Matches(item))
	})

	t.Run("标签过滤", func(t *testing.T) {
		assert.True(t, MailFilter{TagFilter: "tax"}.Matches(item))
		assert.False(t, MailFilter{TagFilter: "bank"}.Matches(item))
	})

	t.Run("收件箱与归档视图", func(t *testing.T) {
		assert.True(t, MailFilter{ViewMode: ViewInbox}.Matches(item))
		assert.False(t, MailFilter{ViewMode: ViewArchived}.Matches(item))

		archived := *item
		archived.IsArchived = true
		assert.False(t, MailFilter{ViewMode: ViewInbox}.Matches(&archived))
		assert.True(t, MailFilter{ViewMode: ViewArchived}.Matches(&archived))
	})
}

func TestCanExecute(t *testing.T) {
	kycStatuses := []KYCStatus{KYCNotStarted, KYCPending, KYCApproved, KYCRejected}

	for _, kyc := range kycStatuses {
		t.Run(string(kyc), func(t *testing.T) {
			assert.True(t, CanExecute(ActionScan, kyc))
			assert.Equal(t, kyc == KYCApproved, CanExecute(ActionForward, kyc))
			assert.Equal(t, kyc == KYCApproved, CanExecute(ActionShred, kyc))
		})
	}

	assert.Equal(t, ActionRequiresApproval, InitialActionStatus(ActionShred, KYCPending))
	assert.Equal(t, ActionPending, InitialActionStatus(ActionShred, KYCApproved))
	assert.Equal(t, ActionPending, InitialActionStatus(ActionScan, KYCRejected))
}
