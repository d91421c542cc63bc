package domain

import "fmt"

// Role is the closed set of actor kinds in the waiting room.
type Role string

const (
	RoleVisitor  Role = "visitor"
	RoleProvider Role = "provider"
)

// ParseRole converts a wire string into a Role, rejecting anything outside
// the closed set so that an unknown third role can never slip through.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleVisitor:
		return RoleVisitor, nil
	case RoleProvider:
		return RoleProvider, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
	}
}

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	return r == RoleVisitor || r == RoleProvider
}

// Identity models the authenticated actor for the duration of a session.
// It is created at login, destroyed at logout, and never mutated in between.
type Identity struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	RoleID int    `json:"role_id"` // role-scoped id (visitor id or provider id)
}

// BroadcastChannel carries queue membership changes for every connected client.
const BroadcastChannel = "lounge.queue"

// PrivateChannel returns the identity's own push channel, e.g. "visitor.42".
func (i Identity) PrivateChannel() string {
	return fmt.Sprintf("%s.%d", i.Role, i.RoleID)
}
