package users

import "time"

type Role string

const (
	RoleViewer Role = "viewer"
	RoleAdmin  Role = "admin"
)

type User struct {
	ID        int64
	Email     string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Caller is an already-authenticated principal. Whoever builds it has resolved
// the role; downstream code only asks what it may do.
type Caller struct {
	Email string
	Role  Role
}

func (c Caller) CanEdit() bool { return c.Role == RoleAdmin }
