package domain

import "time"

// StaffRole enumerates internal operator roles.
type StaffRole string

const (
	StaffRoleAgent  StaffRole = "AGENT"
	StaffRoleAdmin  StaffRole = "ADMIN"
	StaffRoleSystem StaffRole = "SYSTEM"
)

// StaffMember models a support agent, an administrator or the system account
// that automated tickets are attributed to.
type StaffMember struct {
	ID        string
	Name      string
	Email     string
	Role      StaffRole
	Active    bool
	CreatedAt time.Time
}

// Assignable reports whether the member may receive ticket assignments.
func (s StaffMember) Assignable() bool {
	return s.Active && s.Role != StaffRoleSystem
}
