package alertmodel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3f/ack-escalation/internal/alertmodel"
)

func TestAlertIdRoundTripsThroughString(t *testing.T) {
	id := alertmodel.AlertId(42)
	parsed, err := alertmodel.ParseAlertId(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseAlertIdRejectsNonNumeric(t *testing.T) {
	_, err := alertmodel.ParseAlertId("not-a-number")
	assert.Error(t, err)
}

func TestAlertMessageAndDescriptionDefaultToEmptyWhenUnset(t *testing.T) {
	a := alertmodel.Alert{Labels: alertmodel.Labels{Severity: "warn", AlertName: "disk_full"}}
	assert.Equal(t, "", a.Message())
	assert.Equal(t, "", a.Description())
}

func TestAlertMessageAndDescriptionReturnSetValues(t *testing.T) {
	msg := "disk is full"
	desc := "see runbook"
	a := alertmodel.Alert{Annotations: alertmodel.Annotations{Message: &msg, Description: &desc}}
	assert.Equal(t, msg, a.Message())
	assert.Equal(t, desc, a.Description())
}

func TestNewAlertContextStartsAtTierZeroUnacknowledged(t *testing.T) {
	alert := alertmodel.Alert{Labels: alertmodel.Labels{Severity: "critical", AlertName: "cpu"}}
	ctx := alertmodel.NewAlertContext(1, alert, 100)

	assert.Equal(t, alertmodel.AlertId(1), ctx.Id)
	assert.EqualValues(t, 0, ctx.LevelIdx)
	assert.False(t, ctx.Acked())
	assert.Nil(t, ctx.AckedBy)
	assert.NotNil(t, ctx.AdapterLevel)
}

func TestAlertContextAckedReportsTrueOnceAckedBySet(t *testing.T) {
	ctx := alertmodel.NewAlertContext(1, alertmodel.Alert{}, 0)
	u := alertmodel.ChatUser("alice")
	ctx.AckedBy = &u

	assert.True(t, ctx.Acked())
}

func TestWithAdapterLevelDoesNotMutateOriginal(t *testing.T) {
	ctx := alertmodel.NewAlertContext(1, alertmodel.Alert{}, 0)
	updated := ctx.WithAdapterLevel(alertmodel.AdapterChat, 2)

	assert.Empty(t, ctx.AdapterLevel)
	assert.Equal(t, uint(2), updated.AdapterLevel[alertmodel.AdapterChat])
}

func TestCloneDeepCopiesPointerFields(t *testing.T) {
	ctx := alertmodel.NewAlertContext(1, alertmodel.Alert{}, 0)
	notified := uint64(123)
	ctx.LastNotifiedTmsp = &notified
	u := alertmodel.ChatUser("bob")
	ctx.AckedBy = &u
	ctx.AdapterLevel[alertmodel.AdapterPaging] = 1

	clone := ctx.Clone()
	*clone.LastNotifiedTmsp = 999
	clone.AdapterLevel[alertmodel.AdapterMail] = 5

	assert.Equal(t, uint64(123), *ctx.LastNotifiedTmsp, "mutating the clone must not affect the original")
	assert.Len(t, ctx.AdapterLevel, 1)
	assert.Len(t, clone.AdapterLevel, 2)
}

func TestUserEqualityHonoursKindAndValue(t *testing.T) {
	a := alertmodel.ChatUser("alice")
	b := alertmodel.ChatUser("alice")
	c := alertmodel.MailUser("alice")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c), "a chat user and a mail user with the same value must never be equal")
}

func TestUserStringIncludesKindPrefix(t *testing.T) {
	assert.Equal(t, "chat:alice", alertmodel.ChatUser("alice").String())
	assert.Equal(t, "paging:bob", alertmodel.PagingUser("bob").String())
	assert.Equal(t, "mail:carol", alertmodel.MailUser("carol").String())
}
