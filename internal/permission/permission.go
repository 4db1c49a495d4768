// Package permission evaluates an acknowledgement attempt against one of
// the four configured authorisation modes.
package permission

import (
	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/roles"
)

// ModeKind tags which of the four authorisation modes a Policy enforces.
type ModeKind int

const (
	ModeUsers ModeKind = iota
	ModeMinRole
	ModeRoles
	ModeEscalationLevel
)

// Policy evaluates acknowledgement attempts. Exactly one of the mode
// fields is meaningful, selected by Kind.
type Policy struct {
	Kind ModeKind

	Users []alertmodel.User // ModeUsers
	Role  alertmodel.Role   // ModeMinRole

	RoleSet []alertmodel.Role // ModeRoles
	Level   uint              // ModeEscalationLevel

	roleIndex *roles.Index
}

// NewUsersPolicy accepts an ack iff the user is in the given list.
func NewUsersPolicy(users []alertmodel.User) Policy {
	return Policy{Kind: ModeUsers, Users: users}
}

// NewMinRolePolicy accepts an ack iff the RoleIndex places the user at or
// above role.
func NewMinRolePolicy(role alertmodel.Role, idx *roles.Index) Policy {
	return Policy{Kind: ModeMinRole, Role: role, roleIndex: idx}
}

// NewRolesPolicy accepts an ack iff the user appears in any role entry
// whose role is in roleSet.
func NewRolesPolicy(roleSet []alertmodel.Role, idx *roles.Index) Policy {
	return Policy{Kind: ModeRoles, RoleSet: roleSet, roleIndex: idx}
}

// NewEscalationLevelPolicy accepts an ack iff it originates from a
// channel at or below the configured level.
func NewEscalationLevelPolicy(level uint) Policy {
	return Policy{Kind: ModeEscalationLevel, Level: level}
}

// Outcome is the result of evaluating a Policy.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeNoPermission
	OutcomeAlertOutOfScope
)

// Evaluate decides whether action is authorised to acknowledge.
// EscalationLevel mismatch is distinguished from the others as
// AlertOutOfScope per the protocol's error taxonomy; every other
// rejection is NoPermission.
func (p Policy) Evaluate(action alertmodel.UserAction) Outcome {
	switch p.Kind {
	case ModeUsers:
		for _, u := range p.Users {
			if u.Equal(action.User) {
				return OutcomeAccepted
			}
		}
		return OutcomeNoPermission

	case ModeMinRole:
		if p.roleIndex != nil && p.roleIndex.AtOrAbove(action.User, p.Role) {
			return OutcomeAccepted
		}
		return OutcomeNoPermission

	case ModeRoles:
		if p.roleIndex != nil && p.roleIndex.HasAnyRole(action.User, p.RoleSet) {
			return OutcomeAccepted
		}
		return OutcomeNoPermission

	case ModeEscalationLevel:
		// The ack must come from a tier that has already been reached:
		// the originating channel's position must be at or below the
		// configured level.
		if action.ChannelId <= p.Level {
			return OutcomeAccepted
		}
		return OutcomeAlertOutOfScope

	default:
		return OutcomeNoPermission
	}
}
