package models

// Role determines which edit exceptions an actor may exercise.
type Role string

const (
	RoleMember     Role = "member"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// Actor is the resolved identity performing an operation. Resolution itself
// (auth, lookup) is a collaborator concern; the core only stamps audit entries
// with it and checks the role for privileged exceptions.
type Actor struct {
	ID   string
	Name string
	Role Role
}

// Privileged reports whether the actor may adjust dueAt on in-progress cards
// after the sprint is frozen.
func (a Actor) Privileged() bool {
	return a.Role == RoleSupervisor || a.Role == RoleAdmin
}
