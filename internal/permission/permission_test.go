package permission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/permission"
	"github.com/w3f/ack-escalation/internal/roles"
)

func action(u alertmodel.User, channelId uint) alertmodel.UserAction {
	return alertmodel.UserAction{User: u, ChannelId: channelId, Command: alertmodel.AckCommand(1)}
}

func TestUsersPolicy(t *testing.T) {
	u1 := alertmodel.ChatUser("u1")
	u2 := alertmodel.ChatUser("u2")
	p := permission.NewUsersPolicy([]alertmodel.User{u1})

	assert.Equal(t, permission.OutcomeAccepted, p.Evaluate(action(u1, 0)))
	assert.Equal(t, permission.OutcomeNoPermission, p.Evaluate(action(u2, 0)))
}

func TestMinRolePolicy(t *testing.T) {
	u1 := alertmodel.ChatUser("u1")
	u2 := alertmodel.ChatUser("u2")
	idx := roles.NewIndex([]roles.Entry{
		{Role: "observer", Users: []alertmodel.User{u1}},
		{Role: "oncall", Users: []alertmodel.User{u2}},
	})
	p := permission.NewMinRolePolicy("oncall", idx)

	assert.Equal(t, permission.OutcomeNoPermission, p.Evaluate(action(u1, 0)))
	assert.Equal(t, permission.OutcomeAccepted, p.Evaluate(action(u2, 0)))
}

func TestRolesPolicy(t *testing.T) {
	u1 := alertmodel.ChatUser("u1")
	idx := roles.NewIndex([]roles.Entry{
		{Role: "observer", Users: []alertmodel.User{u1}},
	})
	p := permission.NewRolesPolicy([]alertmodel.Role{"observer"}, idx)
	assert.Equal(t, permission.OutcomeAccepted, p.Evaluate(action(u1, 0)))

	p2 := permission.NewRolesPolicy([]alertmodel.Role{"oncall"}, idx)
	assert.Equal(t, permission.OutcomeNoPermission, p2.Evaluate(action(u1, 0)))
}

func TestEscalationLevelPolicy(t *testing.T) {
	p := permission.NewEscalationLevelPolicy(1)
	u := alertmodel.ChatUser("u1")

	assert.Equal(t, permission.OutcomeAccepted, p.Evaluate(action(u, 0)))
	assert.Equal(t, permission.OutcomeAccepted, p.Evaluate(action(u, 1)))
	assert.Equal(t, permission.OutcomeAlertOutOfScope, p.Evaluate(action(u, 2)))
}
